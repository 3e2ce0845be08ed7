package scx

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"streamcache/internal/client"
)

func newRoundtripCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "roundtrip <file>",
		Short: "Upload a file, download it back and verify integrity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]
			if output == "" {
				output = defaultOutputPath(input)
			}

			c, err := client.Connect(serverURI)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			streamID, size, err := client.Upload(c, input)
			if err != nil {
				return err
			}

			if err := client.Download(c, streamID, output, size); err != nil {
				return err
			}

			result, err := client.Verify(input, output)
			if err != nil {
				return err
			}

			if !result.Passed {
				return fmt.Errorf("verification failed: original %d bytes (%s), downloaded %d bytes (%s)",
					result.OriginalSize, result.OriginalChecksum,
					result.DownloadedSize, result.DownloadedChecksum)
			}

			fmt.Printf("roundtrip verified: stream %s, %d bytes, sha256 %s\n", streamID, size, result.OriginalChecksum)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file path (default: output/<timestamp>-<name>)")

	return cmd
}

func defaultOutputPath(inputPath string) string {
	timestamp := time.Now().Format("20060102-150405")
	return filepath.Join("output", fmt.Sprintf("%s-%s", timestamp, filepath.Base(inputPath)))
}
