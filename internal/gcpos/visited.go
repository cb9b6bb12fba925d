// Package gcpos implements the GC cursor and its gc_visited(pos)
// predicate (spec §4.3 "Live vs GC shards", §9 "Live-vs-GC shadow
// world"). GC sweeps the btree from the start of the keyspace forward;
// once its cursor has passed a position, any live-world mutation at that
// position must also be reflected in the gc-world counters, since GC's
// own walk will never revisit it to pick the change up itself.
package gcpos

import (
	"sync"

	"github.com/deploymenttheory/go-bucketfs/internal/types"
)

// Cursor tracks how far a GC sweep has progressed through the keyspace.
// It is read under the fs-wide mark-lock read pin (spec §5 "GC's visited
// predicate... is evaluated under the mark-lock read pin so that GC
// cannot start... between the two updates") so a marking call's "update
// live, then check visited, then maybe update gc" sequence is atomic
// with respect to a GC sweep resetting the cursor.
type Cursor struct {
	mu      sync.RWMutex
	running bool
	pos     types.Pos
}

// Start marks a GC sweep as beginning at the start of the keyspace. It
// must be called with the mark-lock held in write mode (the same
// exclusivity GC's cursor reset requires in the source).
func (c *Cursor) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	c.pos = types.Pos{}
}

// Advance moves the cursor forward as GC visits pos.
func (c *Cursor) Advance(pos types.Pos) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = pos
}

// Finish marks the sweep as complete; Visited then always reports false
// until the next Start.
func (c *Cursor) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
}

// Visited reports whether GC's cursor has already swept past pos, i.e.
// whether a live-world mutation at pos must also be folded into the gc
// shard.
func (c *Cursor) Visited(pos types.Pos) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running && pos.Less(c.pos)
}
