package pool

import (
	"sync"

	"streamcache/pkg/logger"
)

const (
	// DefaultBufferSize is the size of each pooled buffer.
	DefaultBufferSize = 64 * 1024

	// DefaultPoolSize is the target number of retained buffers.
	DefaultPoolSize = 100
)

// BufferPool is a process-wide cache of fixed-size byte buffers.
// Buffers are preallocated up front; when the pool runs dry, Acquire
// allocates a fresh buffer so callers never block. Release retains a
// buffer only while the pool is below its target size.
type BufferPool struct {
	bufferSize int
	poolSize   int

	mu        sync.Mutex
	available [][]byte

	logger *logger.Logger
}

// New creates a buffer pool with poolSize preallocated buffers of
// bufferSize bytes each. A non-positive bufferSize or a negative
// poolSize falls back to the default; a poolSize of 0 retains nothing.
func New(bufferSize, poolSize int) *BufferPool {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if poolSize < 0 {
		poolSize = DefaultPoolSize
	}

	p := &BufferPool{
		bufferSize: bufferSize,
		poolSize:   poolSize,
		available:  make([][]byte, 0, poolSize),
		logger:     logger.WithField("component", "buffer-pool"),
	}

	for i := 0; i < poolSize; i++ {
		p.available = append(p.available, make([]byte, bufferSize))
	}

	p.logger.Info("buffer pool initialized", "poolSize", poolSize, "bufferSize", bufferSize)
	return p
}

// Acquire returns a zeroed buffer of the pool's buffer size.
// Allocates on demand when the pool is exhausted.
func (p *BufferPool) Acquire() []byte {
	p.mu.Lock()

	if len(p.available) == 0 {
		p.mu.Unlock()
		p.logger.Warn("buffer pool exhausted, allocating new buffer")
		return make([]byte, p.bufferSize)
	}

	buf := p.available[len(p.available)-1]
	p.available = p.available[:len(p.available)-1]
	p.mu.Unlock()

	for i := range buf {
		buf[i] = 0
	}
	return buf
}

// Release returns a buffer to the pool. Buffers of the wrong size or
// arriving while the pool is at its target size are dropped.
func (p *BufferPool) Release(buf []byte) {
	if cap(buf) != p.bufferSize {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.available) < p.poolSize {
		p.available = append(p.available, buf[:p.bufferSize])
	}
}

// Available returns the number of buffers currently retained.
func (p *BufferPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available)
}

// BufferSize returns the size of each pooled buffer.
func (p *BufferPool) BufferSize() int {
	return p.bufferSize
}

// PoolSize returns the target number of retained buffers.
func (p *BufferPool) PoolSize() int {
	return p.poolSize
}
