package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var usageDeviceFlag string

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Print read_short() usage for the filesystem or one device",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fs, err := buildFilesystem(cfg)
		if err != nil {
			return err
		}

		if usageDeviceFlag != "" {
			id, err := uuid.Parse(usageDeviceFlag)
			if err != nil {
				return fmt.Errorf("bucketctl: invalid --device: %w", err)
			}
			dev, ok := fs.Device(id)
			if !ok {
				return fmt.Errorf("bucketctl: unknown device %s", id)
			}
			capacity := dev.NrBuckets() * uint64(dev.BucketSize)
			short := dev.UsageLive.DeviceShortUsage(capacity)
			fmt.Printf("device %s: capacity=%d used=%d nr_inodes=%d\n", id, short.Capacity, short.Used, short.NrInodes)
			return nil
		}

		var capacity uint64
		for _, dev := range fs.Devices() {
			capacity += dev.NrBuckets() * uint64(dev.BucketSize)
		}
		short := fs.Engine().FSUsageLive.ReadShort(capacity)
		fmt.Printf("filesystem: capacity=%d used=%d nr_inodes=%d\n", short.Capacity, short.Used, short.NrInodes)
		return nil
	},
}

func init() {
	usageCmd.Flags().StringVar(&usageDeviceFlag, "device", "", "device UUID to report on instead of the whole filesystem")
}
