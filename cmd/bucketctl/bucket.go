package main

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-bucketfs/internal/types"
)

var bucketCmd = &cobra.Command{
	Use:   "bucket",
	Short: "Bucket-level operations",
}

var bucketShowCmd = &cobra.Command{
	Use:   "show <device> <index>",
	Short: "Decode and print one bucket's mark",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fs, err := buildFilesystem(cfg)
		if err != nil {
			return err
		}

		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("bucketctl: invalid device UUID: %w", err)
		}
		idx, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("bucketctl: invalid bucket index: %w", err)
		}

		dev, ok := fs.Device(id)
		if !ok {
			return fmt.Errorf("bucketctl: unknown device %s", id)
		}
		if idx >= dev.NrBuckets() {
			return fmt.Errorf("bucketctl: bucket %d out of range (device has %d buckets)", idx, dev.NrBuckets())
		}

		m := dev.Table().Mark(idx).Load()
		fmt.Printf("bucket %d: state=%s gen=%d data_type=%s dirty_sectors=%d cached_sectors=%d owned_by_allocator=%v stripe=%v journal_seq_valid=%v journal_seq=%d\n",
			idx, derivedState(m), m.Gen(), m.DataType(), m.DirtySectors(), m.CachedSectors(),
			m.OwnedByAllocator(), m.Stripe(), m.JournalSeqValid(), m.JournalSeq())
		return nil
	},
}

func derivedState(m types.BucketMark) string {
	switch {
	case m.Free():
		return "free"
	case m.OwnedByAllocator():
		return "allocator-owned"
	case m.Cached():
		return "cached"
	case m.Dirty():
		return "dirty"
	case m.Metadata():
		return "metadata"
	default:
		return "unavailable"
	}
}

func init() {
	bucketCmd.AddCommand(bucketShowCmd)
}
