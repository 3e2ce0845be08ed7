package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamcache/internal/streamcache/protocol"
	"streamcache/internal/streamcache/state"
	"streamcache/pkg/pool"
)

// fakeSender records every frame the dispatcher sends back.
type fakeSender struct {
	texts    []protocol.Message
	binaries [][]byte
}

func (f *fakeSender) SendText(data []byte) error {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	f.texts = append(f.texts, msg)
	return nil
}

func (f *fakeSender) SendBinary(data []byte) error {
	f.binaries = append(f.binaries, append([]byte(nil), data...))
	return nil
}

func (f *fakeSender) lastText(t *testing.T) protocol.Message {
	t.Helper()
	require.NotEmpty(t, f.texts)
	return f.texts[len(f.texts)-1]
}

func testHandler(t *testing.T) *Handler {
	t.Helper()
	registry, err := state.NewRegistry(t.TempDir(), 24*time.Hour)
	require.NoError(t, err)
	t.Cleanup(registry.Close)
	return New(registry, pool.New(64*1024, 4), nil)
}

func startStream(t *testing.T, h *Handler, connID, streamID string) {
	t.Helper()
	s := &fakeSender{}
	h.HandleText(connID, []byte(fmt.Sprintf(`{"type":"START","streamId":%q}`, streamID)), s)
	require.Equal(t, protocol.TypeStarted, s.lastText(t).Type)
}

func getFrame(streamID string, offset, length uint64) []byte {
	return []byte(fmt.Sprintf(`{"type":"GET","streamId":%q,"offset":%d,"length":%d}`, streamID, offset, length))
}

func TestStartCreatesAndBinds(t *testing.T) {
	h := testHandler(t)
	s := &fakeSender{}

	h.HandleText("conn-1", []byte(`{"type":"START","streamId":"s1"}`), s)

	msg := s.lastText(t)
	assert.Equal(t, protocol.TypeStarted, msg.Type)
	assert.Equal(t, "s1", msg.StreamID)

	// Binary frames now append to s1
	h.HandleBinary("conn-1", []byte{1, 2, 3, 4}, s)
	assert.Len(t, s.texts, 1) // no error response

	h.HandleText("conn-1", getFrame("s1", 0, 4), s)
	require.Len(t, s.binaries, 1)
	assert.Equal(t, []byte{1, 2, 3, 4}, s.binaries[0])
}

func TestStartDuplicateStream(t *testing.T) {
	h := testHandler(t)
	startStream(t, h, "conn-1", "s1")

	s := &fakeSender{}
	h.HandleText("conn-2", []byte(`{"type":"START","streamId":"s1"}`), s)

	msg := s.lastText(t)
	assert.Equal(t, protocol.TypeError, msg.Type)
	assert.Contains(t, msg.Message, "Failed to create stream")
}

func TestStartWhileBound(t *testing.T) {
	h := testHandler(t)
	startStream(t, h, "conn-1", "s1")

	s := &fakeSender{}
	h.HandleText("conn-1", []byte(`{"type":"START","streamId":"s2"}`), s)

	msg := s.lastText(t)
	assert.Equal(t, protocol.TypeError, msg.Type)
	assert.Contains(t, msg.Message, "already bound")
}

func TestBinaryWithoutStream(t *testing.T) {
	h := testHandler(t)
	s := &fakeSender{}

	h.HandleBinary("conn-1", []byte{1, 2, 3}, s)

	msg := s.lastText(t)
	assert.Equal(t, protocol.TypeError, msg.Type)
	assert.Contains(t, msg.Message, "No active stream")
}

func TestStopFinalizesStream(t *testing.T) {
	h := testHandler(t)
	s := &fakeSender{}

	startStream(t, h, "conn-1", "s1")
	h.HandleBinary("conn-1", bytes.Repeat([]byte{0xCC}, 100), s)

	h.HandleText("conn-1", []byte(`{"type":"STOP","streamId":"s1"}`), s)
	msg := s.lastText(t)
	assert.Equal(t, protocol.TypeStopped, msg.Type)
	assert.Equal(t, "s1", msg.StreamID)

	// The binding is gone: further binary frames are rejected
	h.HandleBinary("conn-1", []byte{1}, s)
	assert.Equal(t, protocol.TypeError, s.lastText(t).Type)

	// The stream is Ready and still readable
	sc, err := h.registry.GetStream("s1")
	require.NoError(t, err)
	assert.Equal(t, state.StatusReady, sc.Info().Status)

	h.HandleText("conn-2", getFrame("s1", 0, 100), s)
	require.NotEmpty(t, s.binaries)
	assert.Equal(t, bytes.Repeat([]byte{0xCC}, 100), s.binaries[len(s.binaries)-1])
}

func TestStopWhileUnbound(t *testing.T) {
	h := testHandler(t)
	s := &fakeSender{}

	h.HandleText("conn-1", []byte(`{"type":"STOP","streamId":"s1"}`), s)

	msg := s.lastText(t)
	assert.Equal(t, protocol.TypeError, msg.Type)
	assert.Contains(t, msg.Message, "No active stream")
}

func TestStopStreamMismatch(t *testing.T) {
	h := testHandler(t)
	startStream(t, h, "conn-1", "s1")

	s := &fakeSender{}
	h.HandleText("conn-1", []byte(`{"type":"STOP","streamId":"other"}`), s)

	msg := s.lastText(t)
	assert.Equal(t, protocol.TypeError, msg.Type)
	assert.Contains(t, msg.Message, "not bound")
}

func TestGetMidUpload(t *testing.T) {
	h := testHandler(t)
	s := &fakeSender{}

	startStream(t, h, "conn-1", "s1")
	h.HandleBinary("conn-1", bytes.Repeat([]byte{0xAA}, 100), s)

	// A reader on another connection sees the uploaded prefix
	reader := &fakeSender{}
	h.HandleText("conn-2", getFrame("s1", 0, 50), reader)
	require.Len(t, reader.binaries, 1)
	assert.Equal(t, bytes.Repeat([]byte{0xAA}, 50), reader.binaries[0])

	// Reading at the end of the data reports end-of-stream
	h.HandleText("conn-2", getFrame("s1", 100, 1), reader)
	msg := reader.lastText(t)
	assert.Equal(t, protocol.TypeError, msg.Type)
	assert.Equal(t, "No data available", msg.Message)
}

func TestGetTruncatesAtEnd(t *testing.T) {
	h := testHandler(t)
	s := &fakeSender{}

	startStream(t, h, "conn-1", "s1")
	h.HandleBinary("conn-1", bytes.Repeat([]byte{0x55}, 100), s)

	h.HandleText("conn-1", getFrame("s1", 99, 10), s)
	require.Len(t, s.binaries, 1)
	assert.Equal(t, []byte{0x55}, s.binaries[0])
}

func TestGetUnknownStream(t *testing.T) {
	h := testHandler(t)
	s := &fakeSender{}

	h.HandleText("conn-1", getFrame("nope", 0, 1), s)

	msg := s.lastText(t)
	assert.Equal(t, protocol.TypeError, msg.Type)
	assert.Contains(t, msg.Message, "Stream not found")
}

func TestGetLargerThanPoolBuffer(t *testing.T) {
	registry, err := state.NewRegistry(t.TempDir(), 24*time.Hour)
	require.NoError(t, err)
	t.Cleanup(registry.Close)

	// Tiny pool buffers force the allocation fallback
	h := New(registry, pool.New(16, 2), nil)
	s := &fakeSender{}

	startStream(t, h, "conn-1", "s1")
	h.HandleBinary("conn-1", bytes.Repeat([]byte{0x42}, 64), s)

	h.HandleText("conn-1", getFrame("s1", 0, 64), s)
	require.Len(t, s.binaries, 1)
	assert.Equal(t, bytes.Repeat([]byte{0x42}, 64), s.binaries[0])
}

func TestMalformedJSON(t *testing.T) {
	h := testHandler(t)
	s := &fakeSender{}

	h.HandleText("conn-1", []byte(`{not json`), s)

	msg := s.lastText(t)
	assert.Equal(t, protocol.TypeError, msg.Type)
	assert.Equal(t, "Invalid JSON", msg.Message)

	// The connection keeps working afterwards
	h.HandleText("conn-1", []byte(`{"type":"START","streamId":"s1"}`), s)
	assert.Equal(t, protocol.TypeStarted, s.lastText(t).Type)
}

func TestUnknownMessageType(t *testing.T) {
	h := testHandler(t)
	s := &fakeSender{}

	h.HandleText("conn-1", []byte(`{"type":"PAUSE","streamId":"s1"}`), s)

	msg := s.lastText(t)
	assert.Equal(t, protocol.TypeError, msg.Type)
	assert.Contains(t, msg.Message, "unknown message type")
}

func TestMissingFields(t *testing.T) {
	h := testHandler(t)

	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"start without id", `{"type":"START"}`, "streamId"},
		{"get without offset", `{"type":"GET","streamId":"s1","length":5}`, "required fields"},
		{"no type", `{"streamId":"s1"}`, "missing 'type'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSender{}
			h.HandleText("conn-1", []byte(tt.payload), s)
			msg := s.lastText(t)
			assert.Equal(t, protocol.TypeError, msg.Type)
			assert.Contains(t, msg.Message, tt.want)
		})
	}
}

func TestReleaseConnectionKeepsStream(t *testing.T) {
	h := testHandler(t)
	s := &fakeSender{}

	startStream(t, h, "conn-1", "s1")
	h.HandleBinary("conn-1", []byte("survives"), s)

	h.ReleaseConnection("conn-1")

	// The stream outlives the connection and is readable from a new one
	reader := &fakeSender{}
	h.HandleText("conn-2", getFrame("s1", 0, 8), reader)
	require.Len(t, reader.binaries, 1)
	assert.Equal(t, []byte("survives"), reader.binaries[0])

	// Releasing an unknown connection is harmless
	h.ReleaseConnection("conn-9")
}

func TestInterleavedStreams(t *testing.T) {
	h := testHandler(t)
	sa := &fakeSender{}
	sb := &fakeSender{}

	startStream(t, h, "conn-a", "stream-a")
	startStream(t, h, "conn-b", "stream-b")

	// Interleave appends from both connections
	for i := 0; i < 10; i++ {
		h.HandleBinary("conn-a", bytes.Repeat([]byte{0xA0}, 10), sa)
		h.HandleBinary("conn-b", bytes.Repeat([]byte{0xB0}, 10), sb)
	}

	h.HandleText("conn-a", getFrame("stream-a", 0, 100), sa)
	require.Len(t, sa.binaries, 1)
	assert.Equal(t, bytes.Repeat([]byte{0xA0}, 100), sa.binaries[0])

	h.HandleText("conn-b", getFrame("stream-b", 0, 100), sb)
	require.Len(t, sb.binaries, 1)
	assert.Equal(t, bytes.Repeat([]byte{0xB0}, 100), sb.binaries[0])
}
