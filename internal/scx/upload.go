package scx

import (
	"fmt"

	"github.com/spf13/cobra"

	"streamcache/internal/client"
)

func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file as a new stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.Connect(serverURI)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			streamID, size, err := client.Upload(c, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("uploaded %d bytes as stream %s\n", size, streamID)
			return nil
		},
	}
}
