package client

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// VerificationResult reports a size and checksum comparison of two files.
type VerificationResult struct {
	Passed             bool
	OriginalSize       int64
	DownloadedSize     int64
	OriginalChecksum   string
	DownloadedChecksum string
}

// Verify compares the original file against the downloaded copy by
// length and SHA-256 digest.
func Verify(originalPath, downloadedPath string) (*VerificationResult, error) {
	originalSize, originalChecksum, err := fileDigest(originalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to digest original file: %w", err)
	}

	downloadedSize, downloadedChecksum, err := fileDigest(downloadedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to digest downloaded file: %w", err)
	}

	return &VerificationResult{
		Passed:             originalSize == downloadedSize && originalChecksum == downloadedChecksum,
		OriginalSize:       originalSize,
		DownloadedSize:     downloadedSize,
		OriginalChecksum:   originalChecksum,
		DownloadedChecksum: downloadedChecksum,
	}, nil
}

func fileDigest(path string) (int64, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer func() { _ = file.Close() }()

	hash := sha256.New()
	size, err := io.Copy(hash, file)
	if err != nil {
		return 0, "", err
	}

	return size, hex.EncodeToString(hash.Sum(nil)), nil
}
