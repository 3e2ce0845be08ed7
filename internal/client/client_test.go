package client

import (
	"math/rand"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamcache/internal/streamcache/handler"
	"streamcache/internal/streamcache/server"
	"streamcache/internal/streamcache/state"
	"streamcache/pkg/config"
	"streamcache/pkg/pool"
)

func testServerURI(t *testing.T) string {
	t.Helper()

	cfg := config.DefaultConfig
	cfg.Cache.Directory = t.TempDir()

	registry, err := state.NewRegistry(cfg.Cache.Directory, cfg.Cache.IdleTTL)
	require.NoError(t, err)
	t.Cleanup(registry.Close)

	h := handler.New(registry, pool.New(cfg.Pool.BufferSize, 8), nil)
	s := server.New(&cfg, h, registry, nil, nil)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/audio"
}

func TestGenerateStreamID(t *testing.T) {
	a := GenerateStreamID()
	b := GenerateStreamID()

	assert.True(t, strings.HasPrefix(a, "stream-"))
	assert.NotEqual(t, a, b)
}

func TestUploadDownloadVerify(t *testing.T) {
	uri := testServerURI(t)
	dir := t.TempDir()

	// Input spans several upload chunks and download ranges
	input := filepath.Join(dir, "input.bin")
	data := make([]byte, 100*1024+37)
	rand.New(rand.NewSource(7)).Read(data)
	require.NoError(t, os.WriteFile(input, data, 0644))

	c, err := Connect(uri)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	streamID, size, err := Upload(c, input)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)
	assert.NotEmpty(t, streamID)

	output := filepath.Join(dir, "output.bin")
	require.NoError(t, Download(c, streamID, output, size))

	got, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	result, err := Verify(input, output)
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, result.OriginalChecksum, result.DownloadedChecksum)
}

func TestDownloadAcrossConnections(t *testing.T) {
	uri := testServerURI(t)
	dir := t.TempDir()

	input := filepath.Join(dir, "input.bin")
	data := make([]byte, 4096)
	rand.New(rand.NewSource(11)).Read(data)
	require.NoError(t, os.WriteFile(input, data, 0644))

	up, err := Connect(uri)
	require.NoError(t, err)
	streamID, size, err := Upload(up, input)
	require.NoError(t, err)
	require.NoError(t, up.Close())

	// The client reconnects to download
	down, err := Connect(uri)
	require.NoError(t, err)
	defer func() { _ = down.Close() }()

	output := filepath.Join(dir, "output.bin")
	require.NoError(t, Download(down, streamID, output, size))

	got, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestVerifyDetectsMismatch(t *testing.T) {
	dir := t.TempDir()

	a := filepath.Join(dir, "a.bin")
	b := filepath.Join(dir, "b.bin")
	require.NoError(t, os.WriteFile(a, []byte("original"), 0644))
	require.NoError(t, os.WriteFile(b, []byte("tampered"), 0644))

	result, err := Verify(a, b)
	require.NoError(t, err)
	assert.False(t, result.Passed)
}

func TestConnectFailure(t *testing.T) {
	_, err := Connect("ws://127.0.0.1:1/audio")
	require.Error(t, err)
}
