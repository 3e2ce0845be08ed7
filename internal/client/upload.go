package client

import (
	"fmt"
	"io"
	"os"

	"streamcache/internal/streamcache/protocol"
	"streamcache/pkg/logger"
)

// UploadChunkSize keeps frames small enough that no intermediary needs
// to reassemble fragmented messages.
const UploadChunkSize = 8 * 1024

// Upload streams the file at path to the server as a new stream and
// returns the generated stream id after the server acknowledged STOP.
func Upload(c *Client, path string) (string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open input file: %w", err)
	}
	defer func() { _ = file.Close() }()

	stat, err := file.Stat()
	if err != nil {
		return "", 0, fmt.Errorf("failed to stat input file: %w", err)
	}
	fileSize := stat.Size()

	streamID := GenerateStreamID()
	log := logger.WithFields("component", "upload", "streamId", streamID)
	log.Info("starting upload", "path", path, "bytes", fileSize)

	if err := c.SendControl(protocol.Message{Type: protocol.TypeStart, StreamID: streamID}); err != nil {
		return "", 0, fmt.Errorf("failed to send START: %w", err)
	}

	ack, err := c.ReceiveControl()
	if err != nil {
		return "", 0, err
	}
	if ack.Type != protocol.TypeStarted {
		return "", 0, fmt.Errorf("unexpected response to START: %s", ack.Type)
	}

	var sent int64
	lastProgress := 0
	buf := make([]byte, UploadChunkSize)

	for {
		n, err := file.Read(buf)
		if n > 0 {
			if serr := c.SendBinary(buf[:n]); serr != nil {
				return "", 0, fmt.Errorf("failed to send chunk at offset %d: %w", sent, serr)
			}
			sent += int64(n)
			lastProgress = reportProgress(log, "upload", sent, fileSize, lastProgress)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", 0, fmt.Errorf("failed to read input file: %w", err)
		}
	}

	if err := c.SendControl(protocol.Message{Type: protocol.TypeStop, StreamID: streamID}); err != nil {
		return "", 0, fmt.Errorf("failed to send STOP: %w", err)
	}

	ack, err = c.ReceiveControl()
	if err != nil {
		return "", 0, err
	}
	if ack.Type != protocol.TypeStopped {
		return "", 0, fmt.Errorf("unexpected response to STOP: %s", ack.Type)
	}

	log.Info("upload complete", "bytes", sent)
	return streamID, sent, nil
}

// reportProgress logs at 25% steps and returns the new high-water mark.
func reportProgress(log *logger.Logger, operation string, done, total int64, lastProgress int) int {
	if total <= 0 {
		return lastProgress
	}
	progress := int(done * 100 / total)
	if progress >= lastProgress+25 {
		log.Info(operation+" progress", "done", done, "total", total, "percent", progress)
		return progress
	}
	return lastProgress
}
