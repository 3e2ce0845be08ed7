package state

import (
	"fmt"
	"sync"
	"time"

	"streamcache/internal/streamcache/cache"
	"streamcache/pkg/logger"
)

// Status is the lifecycle state of a stream.
type Status string

const (
	// StatusUploading accepts appended chunks from the owning connection.
	StatusUploading Status = "UPLOADING"
	// StatusReady is entered after finalization; the stream is read-only.
	StatusReady Status = "READY"
	// StatusDownloading is reserved and never entered.
	StatusDownloading Status = "DOWNLOADING"
)

// StreamInfo is a point-in-time copy of a stream's metadata.
type StreamInfo struct {
	ID             string
	CachePath      string
	CurrentOffset  int64
	TotalSize      int64
	Status         Status
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// StreamContext owns one stream: its metadata and its segmented cache.
// The context mutex guards the mutable metadata and serializes every
// call into the cache for a single stream.
type StreamContext struct {
	id        string
	cachePath string
	cache     *cache.Cache

	mu             sync.Mutex
	currentOffset  int64
	totalSize      int64
	status         Status
	createdAt      time.Time
	lastAccessedAt time.Time

	logger *logger.Logger
}

func newStreamContext(id, cachePath string) *StreamContext {
	now := time.Now()
	return &StreamContext{
		id:             id,
		cachePath:      cachePath,
		cache:          cache.New(cachePath),
		status:         StatusUploading,
		createdAt:      now,
		lastAccessedAt: now,
		logger:         logger.WithFields("component", "stream", "streamId", id),
	}
}

// ID returns the stream identifier.
func (sc *StreamContext) ID() string {
	return sc.id
}

// Info returns a copy of the stream's current metadata.
func (sc *StreamContext) Info() StreamInfo {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	return StreamInfo{
		ID:             sc.id,
		CachePath:      sc.cachePath,
		CurrentOffset:  sc.currentOffset,
		TotalSize:      sc.totalSize,
		Status:         sc.status,
		CreatedAt:      sc.createdAt,
		LastAccessedAt: sc.lastAccessedAt,
	}
}

// TotalSize returns the stream's logical size.
func (sc *StreamContext) TotalSize() int64 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.totalSize
}

// WriteChunk appends data at the current offset. The stream must be
// Uploading. The offset advances only after the cache accepted every
// byte, so a failed write leaves the metadata untouched.
func (sc *StreamContext) WriteChunk(data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.status != StatusUploading {
		return fmt.Errorf("stream %s: %w", sc.id, ErrNotUploading)
	}

	n, err := sc.cache.Write(sc.currentOffset, data)
	if err != nil {
		return fmt.Errorf("failed to write chunk: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("wrote %d of %d bytes: %w", n, len(data), cache.ErrShortWrite)
	}

	sc.currentOffset += int64(n)
	sc.totalSize += int64(n)
	sc.lastAccessedAt = time.Now()

	sc.logger.Debug("wrote chunk", "bytes", n, "offset", sc.currentOffset-int64(n))
	return nil
}

// ReadChunk reads up to length bytes at offset, regardless of status.
// A read past the end of the data returns an empty buffer.
func (sc *StreamContext) ReadChunk(offset, length int64) ([]byte, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	data, err := sc.cache.Read(offset, length)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk: %w", err)
	}

	sc.lastAccessedAt = time.Now()

	sc.logger.Debug("read chunk", "bytes", len(data), "offset", offset)
	return data, nil
}

// ReadChunkInto reads up to len(dst) bytes at offset into dst, letting
// callers stage reads in pooled buffers. Returns the bytes read.
func (sc *StreamContext) ReadChunkInto(offset int64, dst []byte) (int64, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	n, err := sc.cache.ReadInto(offset, dst)
	if err != nil {
		return n, fmt.Errorf("failed to read chunk: %w", err)
	}

	sc.lastAccessedAt = time.Now()
	return n, nil
}

// Finalize truncates the backing file to the exact logical size,
// flushes it, and transitions the stream to Ready.
func (sc *StreamContext) Finalize() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.status != StatusUploading {
		return fmt.Errorf("stream %s: %w", sc.id, ErrNotUploading)
	}

	if err := sc.cache.Finalize(sc.totalSize); err != nil {
		return fmt.Errorf("failed to finalize cache: %w", err)
	}

	sc.status = StatusReady
	sc.lastAccessedAt = time.Now()

	sc.logger.Info("stream finalized", "totalSize", sc.totalSize)
	return nil
}

// touch bumps the last-accessed timestamp.
func (sc *StreamContext) touch() {
	sc.mu.Lock()
	sc.lastAccessedAt = time.Now()
	sc.mu.Unlock()
}

// idleSince reports whether the stream was last touched before cutoff.
func (sc *StreamContext) idleSince(cutoff time.Time) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.lastAccessedAt.Before(cutoff)
}

// close releases the cache handle without removing the backing file.
func (sc *StreamContext) close() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.cache.Close()
}
