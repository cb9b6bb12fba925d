package main

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/deploymenttheory/go-bucketfs/internal/bucketfs"
	"github.com/deploymenttheory/go-bucketfs/internal/usage"
)

var cfgFile string

// Config is the demo filesystem's topology, loaded via viper the way the
// teacher's cmd/config.go loads tool configuration: a persistent
// --config flag, sane defaults, any format viper supports.
type Config struct {
	BucketSize         uint32 `mapstructure:"bucket_size"`
	Devices            int    `mapstructure:"devices"`
	BucketsPerDevice   uint64 `mapstructure:"buckets_per_device"`
	FirstBucket        uint64 `mapstructure:"first_bucket"`
	ReserveFactorShift uint   `mapstructure:"reserve_factor_shift"`
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("bucketctl")
		viper.AddConfigPath(".")
	}

	viper.SetDefault("bucket_size", 512)
	viper.SetDefault("devices", 1)
	viper.SetDefault("buckets_per_device", 4096)
	viper.SetDefault("first_bucket", 16)
	viper.SetDefault("reserve_factor_shift", usage.DefaultReserveFactorShift)

	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			fmt.Fprintf(os.Stderr, "bucketctl: reading config: %v\n", err)
			os.Exit(1)
		}
	}
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("bucketctl: decoding config: %w", err)
	}
	return cfg, nil
}

// buildFilesystem allocates cfg.Devices devices of cfg.BucketsPerDevice
// buckets each, wired into a fresh in-memory Filesystem, for the
// subcommands to drive.
func buildFilesystem(cfg Config) (*bucketfs.Filesystem, error) {
	fs := bucketfs.New(cfg.ReserveFactorShift)
	for i := 0; i < cfg.Devices; i++ {
		if _, err := fs.DevBucketsAlloc(cfg.BucketSize, cfg.BucketsPerDevice, cfg.FirstBucket, nil); err != nil {
			return nil, fmt.Errorf("bucketctl: allocating device %d: %w", i, err)
		}
	}
	return fs, nil
}

// freeSectors returns the callback ReservationAdd needs to recompute the
// global pool on its slow path: the sum, across every device, of
// capacity not already accounted for as used.
func freeSectors(fs *bucketfs.Filesystem) func() uint64 {
	return func() uint64 {
		var total uint64
		for _, dev := range fs.Devices() {
			capacity := dev.NrBuckets() * uint64(dev.BucketSize)
			short := dev.UsageLive.DeviceShortUsage(capacity)
			if short.Used < short.Capacity {
				total += short.Capacity - short.Used
			}
		}
		return total
	}
}
