package client

import (
	"fmt"
	"os"
	"path/filepath"

	"streamcache/internal/streamcache/protocol"
	"streamcache/pkg/logger"
)

// DownloadChunkSize is the range size of each GET request.
const DownloadChunkSize = 32 * 1024

// Download fetches size bytes of the given stream with chunked range
// requests and writes them to outputPath.
func Download(c *Client, streamID, outputPath string, size int64) error {
	log := logger.WithFields("component", "download", "streamId", streamID)
	log.Info("starting download", "path", outputPath, "bytes", size)

	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() { _ = out.Close() }()

	var offset int64
	lastProgress := 0

	for offset < size {
		length := int64(DownloadChunkSize)
		if remaining := size - offset; length > remaining {
			length = remaining
		}

		reqOffset := uint64(offset)
		reqLength := uint64(length)
		err := c.SendControl(protocol.Message{
			Type:     protocol.TypeGet,
			StreamID: streamID,
			Offset:   &reqOffset,
			Length:   &reqLength,
		})
		if err != nil {
			return fmt.Errorf("failed to send GET at offset %d: %w", offset, err)
		}

		data, err := c.ReceiveBinary()
		if err != nil {
			return fmt.Errorf("failed to receive chunk at offset %d: %w", offset, err)
		}
		if len(data) == 0 {
			return fmt.Errorf("no data received at offset %d", offset)
		}

		if _, err := out.Write(data); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}

		offset += int64(len(data))
		lastProgress = reportProgress(log, "download", offset, size, lastProgress)
	}

	log.Info("download complete", "bytes", offset)
	return nil
}
