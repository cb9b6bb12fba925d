// Command bucketctl is a small interactive/inspection wrapper around the
// bucket accounting core: it stands up an in-memory demo filesystem from
// a config file, then drives usage reporting, bucket inspection,
// reservation admission, and the bucket-seq sweep against it.
//
// It is ambient tooling around the accounting core (spec.md §1, §6), not
// part of the core itself.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bucketctl",
	Short: "Inspect and drive an in-memory bucket-accounting filesystem",
	Long: `bucketctl loads a bucket-accounting topology (bucket size, per-device
capacity, device count, reserve factor shift) and lets you inspect usage,
decode individual bucket marks, exercise disk reservations, and run the
bucket-seq cleanup sweep against it.`,
	Version: "0.1.0-dev",
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml/json/toml; default: ./bucketctl.yaml)")
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(usageCmd, bucketCmd, reserveCmd, releaseCmd, sweepCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "bucketctl: %v\n", err)
		os.Exit(1)
	}
}
