package daemon

import (
	"github.com/spf13/cobra"
)

func Execute() error {
	rootCmd := &cobra.Command{
		Use:           "streamcached",
		Short:         "Streaming upload/download cache server",
		Long:          "streamcached accepts binary payload streams over websocket connections,\nstores them in memory-mapped cache files and serves random-access range\nreads concurrently with in-progress uploads.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newServeCmd())

	return rootCmd.Execute()
}
