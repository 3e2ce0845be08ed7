package cache

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"streamcache/pkg/logger"
)

const (
	// SegmentSize is the size of each memory-mapped view.
	SegmentSize int64 = 1 << 30 // 1 GiB

	// MaxCacheSize bounds a single backing file.
	MaxCacheSize int64 = 8 << 30 // 8 GiB

	// BatchOperationLimit bounds WriteBatch/ReadBatch.
	BatchOperationLimit = 1000
)

// WriteOp is a single operation for WriteBatch.
type WriteOp struct {
	Offset int64
	Data   []byte
}

// ReadOp is a single operation for ReadBatch.
type ReadOp struct {
	Offset int64
	Length int64
}

// Cache presents a growable byte-addressable file, memory-mapped in
// fixed-size segments. Segments are mapped on demand and torn down by
// Evict, Resize and Close. Safe for concurrent readers with exclusive
// writers: Write, Resize, Finalize, Evict and Close take the write lock,
// Read, Flush and Prefetch the read lock. The segment table has its own
// small mutex so shared-mode readers can map on demand without racing.
type Cache struct {
	path   string
	file   *os.File
	size   int64
	isOpen bool

	mu sync.RWMutex

	segMu    sync.Mutex
	segments map[int64][]byte

	logger *logger.Logger
}

// New creates a cache handle for the given backing file path. The file
// is not touched until Create, Open or the first Write.
func New(path string) *Cache {
	return &Cache{
		path:     path,
		segments: make(map[int64][]byte),
		logger:   logger.WithFields("component", "cache", "path", path),
	}
}

// Create creates the backing file, pre-extended to initialSize, and
// opens a handle to it. Any existing file at the path is replaced.
func (c *Cache) Create(initialSize int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createLocked(initialSize)
}

func (c *Cache) createLocked(initialSize int64) error {
	if initialSize < 0 || initialSize > MaxCacheSize {
		return fmt.Errorf("create size %d: %w", initialSize, ErrSizeExceeded)
	}

	if _, err := os.Stat(c.path); err == nil {
		_ = os.Remove(c.path)
	}

	file, err := os.OpenFile(c.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	if initialSize > 0 {
		if err := file.Truncate(initialSize); err != nil {
			_ = file.Close()
			return fmt.Errorf("failed to pre-extend file: %w", err)
		}
	}

	c.file = file
	c.size = initialSize
	c.isOpen = true

	c.logger.Debug("created cache file", "initialSize", initialSize)
	return nil
}

// Open opens an existing backing file and reads its on-disk length.
func (c *Cache) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openLocked()
}

func (c *Cache) openLocked() error {
	if _, err := os.Stat(c.path); os.IsNotExist(err) {
		return fmt.Errorf("%s: %w", c.path, ErrFileMissing)
	}

	file, err := os.OpenFile(c.path, os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to stat file: %w", err)
	}

	c.file = file
	c.size = stat.Size()
	c.isOpen = true

	c.logger.Debug("opened cache file", "size", c.size)
	return nil
}

// Close unmaps all segments and releases the file handle. Idempotent.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Cache) closeLocked() error {
	if !c.isOpen {
		return nil
	}

	c.unmapAllLocked()

	var err error
	if c.file != nil {
		err = c.file.Close()
		c.file = nil
	}
	c.isOpen = false

	c.logger.Debug("closed cache file")
	return err
}

// Write places data at the given offset, growing the file as needed.
// If the cache is not open it is created with an initial size of
// offset+len(data). Returns the number of bytes actually written; a
// count short of len(data) carries the mapping error that stopped it.
func (c *Cache) Write(offset int64, data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if offset < 0 {
		return 0, fmt.Errorf("negative offset %d: %w", offset, ErrSizeExceeded)
	}

	if !c.isOpen {
		if err := c.createLocked(offset + int64(len(data))); err != nil {
			return 0, err
		}
	}

	required := offset + int64(len(data))
	if required > MaxCacheSize {
		return 0, fmt.Errorf("write to %d: %w", required, ErrSizeExceeded)
	}

	if required > c.size {
		if err := c.resizeLocked(required); err != nil {
			return 0, fmt.Errorf("failed to grow file for write: %w", err)
		}
	}

	written := 0
	for written < len(data) {
		current := offset + int64(written)
		segIndex := current / SegmentSize
		segOffset := current % SegmentSize

		n := int64(len(data) - written)
		if remaining := SegmentSize - segOffset; n > remaining {
			n = remaining
		}

		seg, err := c.segment(segIndex)
		if err != nil {
			c.logger.Error("failed to map segment for write", "segment", segIndex, "error", err)
			return written, err
		}

		copy(seg[segOffset:segOffset+n], data[written:written+int(n)])

		// Schedule writeback without waiting; Flush is the durable path.
		_ = unix.Msync(seg, unix.MS_ASYNC)

		written += int(n)
	}

	c.logger.Debug("wrote bytes", "count", written, "offset", offset)
	return written, nil
}

// Read returns a freshly owned buffer of min(length, size-offset) bytes.
// A read at or past the end of the file returns an empty buffer and no
// error. If the cache is not open it is opened on demand.
func (c *Cache) Read(offset, length int64) ([]byte, error) {
	if length < 0 {
		return nil, nil
	}
	result := make([]byte, length)
	n, err := c.ReadInto(offset, result)
	return result[:n], err
}

// ReadInto reads up to len(dst) bytes starting at offset into dst and
// returns the number of bytes read. Reads at or past the end of the
// file read zero bytes and return no error.
func (c *Cache) ReadInto(offset int64, dst []byte) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isOpen {
		// Upgrade: release shared, take exclusive, re-check, downgrade.
		c.mu.RUnlock()
		c.mu.Lock()
		var err error
		if !c.isOpen {
			err = c.openLocked()
		}
		c.mu.Unlock()
		c.mu.RLock()
		if err != nil {
			return 0, fmt.Errorf("failed to open for read: %w", err)
		}
	}

	if offset < 0 || len(dst) == 0 || offset >= c.size {
		return 0, nil
	}

	actual := int64(len(dst))
	if remaining := c.size - offset; actual > remaining {
		actual = remaining
	}

	var read int64
	for read < actual {
		current := offset + read
		segIndex := current / SegmentSize
		segOffset := current % SegmentSize

		n := actual - read
		if remaining := SegmentSize - segOffset; n > remaining {
			n = remaining
		}

		seg, err := c.segment(segIndex)
		if err != nil {
			c.logger.Error("failed to map segment for read", "segment", segIndex, "error", err)
			return read, err
		}

		copy(dst[read:read+n], seg[segOffset:segOffset+n])
		read += n
	}

	return read, nil
}

// WriteBatch applies the writes sequentially and returns per-op byte
// counts. Batches over BatchOperationLimit are rejected with no state
// change.
func (c *Cache) WriteBatch(ops []WriteOp) ([]int, error) {
	if len(ops) > BatchOperationLimit {
		return nil, fmt.Errorf("%d operations: %w", len(ops), ErrBatchLimit)
	}

	results := make([]int, 0, len(ops))
	for _, op := range ops {
		n, err := c.Write(op.Offset, op.Data)
		results = append(results, n)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// ReadBatch applies the reads sequentially and returns per-op buffers.
func (c *Cache) ReadBatch(ops []ReadOp) ([][]byte, error) {
	if len(ops) > BatchOperationLimit {
		return nil, fmt.Errorf("%d operations: %w", len(ops), ErrBatchLimit)
	}

	results := make([][]byte, 0, len(ops))
	for _, op := range ops {
		data, err := c.Read(op.Offset, op.Length)
		results = append(results, data)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// Resize unmaps all segments and truncates or extends the backing file
// to exactly newSize. Subsequent accesses remap on demand.
func (c *Cache) Resize(newSize int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resizeLocked(newSize)
}

func (c *Cache) resizeLocked(newSize int64) error {
	if !c.isOpen {
		return ErrNotOpen
	}
	if newSize < 0 || newSize > MaxCacheSize {
		return fmt.Errorf("resize to %d: %w", newSize, ErrSizeExceeded)
	}
	if newSize == c.size {
		return nil
	}

	c.unmapAllLocked()

	if err := c.file.Truncate(newSize); err != nil {
		return fmt.Errorf("failed to truncate file: %w", err)
	}
	c.size = newSize

	c.logger.Debug("resized cache file", "newSize", newSize)
	return nil
}

// Finalize truncates the file to finalSize and synchronously flushes.
func (c *Cache) Finalize(finalSize int64) error {
	if err := c.Resize(finalSize); err != nil {
		return fmt.Errorf("failed to resize during finalize: %w", err)
	}
	if err := c.Flush(); err != nil {
		return fmt.Errorf("failed to flush during finalize: %w", err)
	}

	c.logger.Debug("finalized cache file", "finalSize", finalSize)
	return nil
}

// Flush synchronously writes every currently-mapped segment to disk.
func (c *Cache) Flush() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isOpen {
		return ErrNotOpen
	}

	c.segMu.Lock()
	defer c.segMu.Unlock()

	for index, seg := range c.segments {
		if err := unix.Msync(seg, unix.MS_SYNC); err != nil {
			return fmt.Errorf("failed to flush segment %d: %w", index, err)
		}
	}

	c.logger.Debug("flushed cache file")
	return nil
}

// Prefetch maps the segments covering the range and advises the kernel
// they will be needed. Best-effort.
func (c *Cache) Prefetch(offset, length int64) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isOpen {
		return ErrNotOpen
	}
	if offset < 0 || length <= 0 || offset+length > c.size {
		return fmt.Errorf("prefetch range [%d,%d): %w", offset, offset+length, ErrSizeExceeded)
	}

	startSegment := offset / SegmentSize
	endSegment := (offset + length - 1) / SegmentSize

	for segIndex := startSegment; segIndex <= endSegment; segIndex++ {
		seg, err := c.segment(segIndex)
		if err != nil {
			return err
		}
		_ = unix.Madvise(seg, unix.MADV_WILLNEED)
	}

	return nil
}

// Evict unmaps every segment fully or partially covered by the range.
// Safe when no mapping exists.
func (c *Cache) Evict(offset, length int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isOpen {
		return ErrNotOpen
	}
	if offset < 0 || length <= 0 {
		return nil
	}

	startSegment := offset / SegmentSize
	endSegment := (offset + length - 1) / SegmentSize

	c.segMu.Lock()
	defer c.segMu.Unlock()

	for segIndex := startSegment; segIndex <= endSegment; segIndex++ {
		if seg, ok := c.segments[segIndex]; ok {
			if err := unix.Munmap(seg); err != nil {
				c.logger.Warn("failed to unmap segment", "segment", segIndex, "error", err)
			}
			delete(c.segments, segIndex)
		}
	}

	return nil
}

// Size returns the logical file length.
func (c *Cache) Size() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}

// Path returns the backing file path.
func (c *Cache) Path() string {
	return c.path
}

// IsOpen reports whether the backing file handle is open.
func (c *Cache) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isOpen
}

// segment returns the mapped view for the given segment index, mapping
// it on demand. The last segment may be shorter than SegmentSize.
// Callers hold c.mu in either mode; the table itself is guarded by segMu.
func (c *Cache) segment(segIndex int64) ([]byte, error) {
	c.segMu.Lock()
	defer c.segMu.Unlock()

	if seg, ok := c.segments[segIndex]; ok {
		return seg, nil
	}

	if c.file == nil {
		return nil, ErrNotOpen
	}

	segOffset := segIndex * SegmentSize
	segSize := c.size - segOffset
	if segSize > SegmentSize {
		segSize = SegmentSize
	}
	if segSize <= 0 {
		return nil, fmt.Errorf("segment %d out of range for size %d", segIndex, c.size)
	}

	seg, err := unix.Mmap(int(c.file.Fd()), segOffset, int(segSize),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("failed to map segment %d: %w", segIndex, err)
	}

	c.segments[segIndex] = seg

	c.logger.Debug("mapped segment", "segment", segIndex, "bytes", segSize)
	return seg, nil
}

// unmapAllLocked tears down every mapping. Caller holds the write lock.
func (c *Cache) unmapAllLocked() {
	c.segMu.Lock()
	defer c.segMu.Unlock()

	for segIndex, seg := range c.segments {
		if err := unix.Munmap(seg); err != nil {
			c.logger.Warn("failed to unmap segment", "segment", segIndex, "error", err)
		}
	}
	c.segments = make(map[int64][]byte)
}
