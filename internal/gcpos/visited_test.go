package gcpos

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/deploymenttheory/go-bucketfs/internal/types"
)

func TestVisitedFalseBeforeStart(t *testing.T) {
	var c Cursor
	assert.False(t, c.Visited(types.Pos{Inode: 5}))
}

func TestVisitedTracksCursorAdvance(t *testing.T) {
	var c Cursor
	c.Start()
	c.Advance(types.Pos{Inode: 10})

	assert.True(t, c.Visited(types.Pos{Inode: 5}), "pos before the cursor has been swept")
	assert.False(t, c.Visited(types.Pos{Inode: 20}), "pos ahead of the cursor has not been swept")
}

func TestVisitedFalseAfterFinish(t *testing.T) {
	var c Cursor
	c.Start()
	c.Advance(types.Pos{Inode: 10})
	c.Finish()

	assert.False(t, c.Visited(types.Pos{Inode: 5}))
}

func TestStartResetsCursorToKeyspaceStart(t *testing.T) {
	var c Cursor
	c.Start()
	c.Advance(types.Pos{Inode: 100})
	c.Finish()

	c.Start()
	assert.False(t, c.Visited(types.Pos{Inode: 1}), "a fresh sweep hasn't visited anything yet")
}
