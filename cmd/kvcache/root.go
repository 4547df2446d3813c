package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	config string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:   "kvcache",
		Short: "Instrumented cache over a key-value store",
		Long: `kvcache stores values under generated keys, counts and records every
store call for replay, and caches fetched web pages for a short TTL.

Every command reads the same config file; KVCACHE_* environment variables
override it.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.config, "config", "c", "", "Path to a JSON or YAML config file")

	rootCmd.AddCommand(newServeCmd(flags))
	rootCmd.AddCommand(newStoreCmd(flags))
	rootCmd.AddCommand(newRetrieveCmd(flags))
	rootCmd.AddCommand(newCallsCmd(flags))
	rootCmd.AddCommand(newReplayCmd(flags))
	rootCmd.AddCommand(newFetchCmd(flags))
	rootCmd.AddCommand(newAccessCountCmd(flags))
	rootCmd.AddCommand(newFlushCmd(flags))
	return rootCmd
}
