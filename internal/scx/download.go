package scx

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"streamcache/internal/client"
)

func newDownloadCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "download <streamId> <size>",
		Short: "Download a stream by id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid size %q: %w", args[1], err)
			}

			c, err := client.Connect(serverURI)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			if err := client.Download(c, args[0], output, size); err != nil {
				return err
			}

			fmt.Printf("downloaded %d bytes to %s\n", size, output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "download.out", "Output file path")

	return cmd
}
