package scx

import (
	"github.com/spf13/cobra"
)

var serverURI string

func Execute() error {
	rootCmd := &cobra.Command{
		Use:           "scx",
		Short:         "Stream cache client",
		Long:          "scx uploads files to a streamcache server, downloads them back by\nstream id, and verifies round-trip integrity.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&serverURI, "server", "ws://localhost:8080/audio", "WebSocket server URI")

	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newDownloadCmd())
	rootCmd.AddCommand(newRoundtripCmd())

	return rootCmd.Execute()
}
