package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"streamcache/pkg/logger"
)

// Registry is the process-wide mapping of stream id to StreamContext.
// It arbitrates id uniqueness and owns stream lifecycle; per-stream
// serialization lives in the contexts themselves. Lock order is
// registry, then context, then cache, never reversed.
type Registry struct {
	cacheDir string
	idleTTL  time.Duration

	mu      sync.Mutex
	streams map[string]*StreamContext

	logger *logger.Logger
}

// NewRegistry creates a registry rooted at cacheDir, creating the
// directory if absent. Streams idle longer than idleTTL are removed by
// CleanupIdle.
func NewRegistry(cacheDir string, idleTTL time.Duration) (*Registry, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", cacheDir, err)
	}

	r := &Registry{
		cacheDir: cacheDir,
		idleTTL:  idleTTL,
		streams:  make(map[string]*StreamContext),
		logger:   logger.WithField("component", "registry"),
	}

	r.logger.Info("registry initialized", "cacheDir", cacheDir, "idleTTL", idleTTL)
	return r, nil
}

// CreateStream registers a new stream in the Uploading state. The cache
// file is not created until the first write. Fails if the id is taken.
func (r *Registry) CreateStream(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.streams[id]; exists {
		r.logger.Warn("stream already exists", "streamId", id)
		return fmt.Errorf("stream %s: %w", id, ErrStreamExists)
	}

	sc := newStreamContext(id, r.cachePath(id))
	r.streams[id] = sc

	r.logger.Info("created stream", "streamId", id, "cachePath", sc.cachePath, "totalStreams", len(r.streams))
	return nil
}

// GetStream returns the context for id and bumps its last-accessed
// timestamp, or ErrStreamNotFound.
func (r *Registry) GetStream(id string) (*StreamContext, error) {
	r.mu.Lock()
	sc, exists := r.streams[id]
	r.mu.Unlock()

	if !exists {
		return nil, fmt.Errorf("stream %s: %w", id, ErrStreamNotFound)
	}

	sc.touch()
	return sc, nil
}

// DeleteStream removes the stream from the registry, closes its cache
// and unlinks the backing file. Filesystem work happens after the
// context is detached so other dispatchers are not held up.
func (r *Registry) DeleteStream(id string) error {
	r.mu.Lock()
	sc, exists := r.streams[id]
	if exists {
		delete(r.streams, id)
	}
	r.mu.Unlock()

	if !exists {
		r.logger.Warn("stream not found for deletion", "streamId", id)
		return fmt.Errorf("stream %s: %w", id, ErrStreamNotFound)
	}

	r.destroy(sc)
	r.logger.Info("deleted stream", "streamId", id)
	return nil
}

// WriteChunk appends data to the stream's cache at its current offset.
func (r *Registry) WriteChunk(id string, data []byte) error {
	sc, err := r.GetStream(id)
	if err != nil {
		return err
	}
	return sc.WriteChunk(data)
}

// ReadChunk reads up to length bytes at offset from the stream.
func (r *Registry) ReadChunk(id string, offset, length int64) ([]byte, error) {
	sc, err := r.GetStream(id)
	if err != nil {
		return nil, err
	}
	return sc.ReadChunk(offset, length)
}

// ReadChunkInto reads up to len(dst) bytes at offset into dst.
func (r *Registry) ReadChunkInto(id string, offset int64, dst []byte) (int64, error) {
	sc, err := r.GetStream(id)
	if err != nil {
		return 0, err
	}
	return sc.ReadChunkInto(offset, dst)
}

// FinalizeStream truncates the stream to its logical size, flushes it
// and transitions it to Ready.
func (r *Registry) FinalizeStream(id string) error {
	sc, err := r.GetStream(id)
	if err != nil {
		return err
	}
	return sc.Finalize()
}

// ListStreams returns the ids of all registered streams.
func (r *Registry) ListStreams() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.streams))
	for id := range r.streams {
		ids = append(ids, id)
	}
	return ids
}

// CleanupIdle removes every stream idle past the registry's TTL exactly
// as DeleteStream would, and returns the number removed.
func (r *Registry) CleanupIdle() int {
	cutoff := time.Now().Add(-r.idleTTL)

	r.mu.Lock()
	var idle []*StreamContext
	for id, sc := range r.streams {
		if sc.idleSince(cutoff) {
			idle = append(idle, sc)
			delete(r.streams, id)
		}
	}
	r.mu.Unlock()

	for _, sc := range idle {
		r.logger.Info("evicting idle stream", "streamId", sc.id)
		r.destroy(sc)
	}

	return len(idle)
}

// Close detaches and closes every stream. Backing files are left on
// disk; a new Registry starts empty and does not load them.
func (r *Registry) Close() {
	r.mu.Lock()
	streams := r.streams
	r.streams = make(map[string]*StreamContext)
	r.mu.Unlock()

	for id, sc := range streams {
		if err := sc.close(); err != nil {
			r.logger.Warn("failed to close stream cache", "streamId", id, "error", err)
		}
	}

	r.logger.Info("registry closed", "streamsReleased", len(streams))
}

// destroy closes a detached context and unlinks its backing file.
func (r *Registry) destroy(sc *StreamContext) {
	if err := sc.close(); err != nil {
		r.logger.Warn("failed to close stream cache", "streamId", sc.id, "error", err)
	}
	if err := os.Remove(sc.cachePath); err != nil && !os.IsNotExist(err) {
		r.logger.Warn("failed to remove cache file", "streamId", sc.id, "error", err)
	}
}

func (r *Registry) cachePath(id string) string {
	return filepath.Join(r.cacheDir, id+".cache")
}
