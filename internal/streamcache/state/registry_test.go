package state

import (
	"bytes"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(t.TempDir(), 24*time.Hour)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func TestCreateAndGetStream(t *testing.T) {
	r := testRegistry(t)

	require.NoError(t, r.CreateStream("s1"))

	sc, err := r.GetStream("s1")
	require.NoError(t, err)

	info := sc.Info()
	assert.Equal(t, "s1", info.ID)
	assert.Equal(t, StatusUploading, info.Status)
	assert.Zero(t, info.CurrentOffset)
	assert.Zero(t, info.TotalSize)

	_, err = r.GetStream("missing")
	assert.ErrorIs(t, err, ErrStreamNotFound)
}

func TestCreateDuplicateStream(t *testing.T) {
	r := testRegistry(t)

	require.NoError(t, r.CreateStream("dup"))
	err := r.CreateStream("dup")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStreamExists)

	assert.Len(t, r.ListStreams(), 1)
}

func TestWriteAndReadChunk(t *testing.T) {
	r := testRegistry(t)

	require.NoError(t, r.CreateStream("s1"))

	require.NoError(t, r.WriteChunk("s1", []byte{1, 2, 3, 4}))
	require.NoError(t, r.WriteChunk("s1", []byte{5, 6}))

	sc, err := r.GetStream("s1")
	require.NoError(t, err)
	info := sc.Info()
	assert.Equal(t, int64(6), info.CurrentOffset)
	assert.Equal(t, int64(6), info.TotalSize)
	assert.Equal(t, info.CurrentOffset, info.TotalSize)

	got, err := r.ReadChunk("s1", 0, 6)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, got)

	// Read past end of data is empty, not an error
	got, err = r.ReadChunk("s1", 6, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	// Read crossing the end is truncated
	got, err = r.ReadChunk("s1", 5, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte{6}, got)
}

func TestWriteChunkUnknownStream(t *testing.T) {
	r := testRegistry(t)
	assert.ErrorIs(t, r.WriteChunk("nope", []byte{1}), ErrStreamNotFound)
}

func TestReadChunkInto(t *testing.T) {
	r := testRegistry(t)

	require.NoError(t, r.CreateStream("s1"))
	require.NoError(t, r.WriteChunk("s1", []byte("staged read")))

	buf := make([]byte, 6)
	n, err := r.ReadChunkInto("s1", 0, buf)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
	assert.Equal(t, []byte("staged"), buf)

	n, err = r.ReadChunkInto("s1", 100, buf)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFinalizeStream(t *testing.T) {
	r := testRegistry(t)

	require.NoError(t, r.CreateStream("s1"))
	require.NoError(t, r.WriteChunk("s1", bytes.Repeat([]byte{0xEE}, 100)))

	require.NoError(t, r.FinalizeStream("s1"))

	sc, err := r.GetStream("s1")
	require.NoError(t, err)
	info := sc.Info()
	assert.Equal(t, StatusReady, info.Status)

	// Backing file is truncated to the exact logical length
	stat, err := os.Stat(info.CachePath)
	require.NoError(t, err)
	assert.Equal(t, int64(100), stat.Size())

	// Appends are rejected once finalized
	assert.ErrorIs(t, r.WriteChunk("s1", []byte{1}), ErrNotUploading)

	// Finalize is only legal while uploading
	assert.ErrorIs(t, r.FinalizeStream("s1"), ErrNotUploading)

	// Reads still work after finalization
	got, err := r.ReadChunk("s1", 10, 10)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xEE}, 10), got)
}

func TestDeleteStream(t *testing.T) {
	r := testRegistry(t)

	require.NoError(t, r.CreateStream("s1"))
	require.NoError(t, r.WriteChunk("s1", []byte("doomed")))

	sc, err := r.GetStream("s1")
	require.NoError(t, err)
	cachePath := sc.Info().CachePath

	require.NoError(t, r.DeleteStream("s1"))

	_, err = r.GetStream("s1")
	assert.ErrorIs(t, err, ErrStreamNotFound)

	_, err = os.Stat(cachePath)
	assert.True(t, os.IsNotExist(err))

	// The id is reusable once the context is gone
	require.NoError(t, r.CreateStream("s1"))

	assert.ErrorIs(t, r.DeleteStream("never"), ErrStreamNotFound)
}

func TestCleanupIdle(t *testing.T) {
	r, err := NewRegistry(t.TempDir(), time.Millisecond)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.CreateStream("old"))
	require.NoError(t, r.WriteChunk("old", []byte("stale")))

	time.Sleep(10 * time.Millisecond)

	require.NoError(t, r.CreateStream("fresh"))

	removed := r.CleanupIdle()
	assert.Equal(t, 1, removed)

	_, err = r.GetStream("old")
	assert.ErrorIs(t, err, ErrStreamNotFound)

	_, err = r.GetStream("fresh")
	assert.NoError(t, err)
}

func TestCleanupIdleKeepsActive(t *testing.T) {
	r := testRegistry(t)

	require.NoError(t, r.CreateStream("s1"))
	assert.Zero(t, r.CleanupIdle())
	assert.Len(t, r.ListStreams(), 1)
}

func TestConcurrentWritersOnSeparateStreams(t *testing.T) {
	r := testRegistry(t)

	require.NoError(t, r.CreateStream("a"))
	require.NoError(t, r.CreateStream("b"))

	var wg sync.WaitGroup
	write := func(id string, fill byte) {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if err := r.WriteChunk(id, bytes.Repeat([]byte{fill}, 100)); err != nil {
				t.Error(err)
				return
			}
		}
	}

	wg.Add(2)
	go write("a", 0xAA)
	go write("b", 0xBB)
	wg.Wait()

	gotA, err := r.ReadChunk("a", 0, 5000)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xAA}, 5000), gotA)

	gotB, err := r.ReadChunk("b", 0, 5000)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xBB}, 5000), gotB)
}
