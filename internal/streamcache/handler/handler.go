package handler

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"streamcache/internal/streamcache/metrics"
	"streamcache/internal/streamcache/protocol"
	"streamcache/internal/streamcache/state"
	"streamcache/pkg/logger"
	"streamcache/pkg/pool"
)

// Sender delivers frames back to the connection a message arrived on.
// Implementations must be safe for use from the dispatching goroutine.
type Sender interface {
	// SendText sends one text frame.
	SendText(data []byte) error
	// SendBinary sends one binary frame.
	SendBinary(data []byte) error
}

// Handler is the protocol dispatcher. It parses control messages,
// validates them, drives the registry, and tracks which stream each
// connection's binary frames append to. Errors are answered with a
// single ERROR message and never tear down the connection.
type Handler struct {
	registry *state.Registry
	pool     *pool.BufferPool
	metrics  *metrics.Metrics

	mu       sync.Mutex
	bindings map[string]string // connection id -> stream id

	logger *logger.Logger
}

// New creates a dispatcher over the given registry. Reads no larger
// than the pool's buffer size are staged in pooled buffers. pool and
// metrics may be nil.
func New(registry *state.Registry, bufPool *pool.BufferPool, m *metrics.Metrics) *Handler {
	return &Handler{
		registry: registry,
		pool:     bufPool,
		metrics:  m,
		bindings: make(map[string]string),
		logger:   logger.WithField("component", "handler"),
	}
}

// HandleText dispatches one control frame from the given connection.
func (h *Handler) HandleText(connID string, payload []byte, sender Sender) {
	msg, err := protocol.Parse(payload)
	if err != nil {
		h.logger.Warn("failed to parse control message", "connectionId", connID, "error", err)
		h.sendError(sender, "Invalid JSON")
		return
	}

	if err := msg.Validate(); err != nil {
		h.sendError(sender, err.Error())
		return
	}

	switch msg.Type {
	case protocol.TypeStart:
		h.handleStart(msg, connID, sender)
	case protocol.TypeStop:
		h.handleStop(msg, connID, sender)
	case protocol.TypeGet:
		h.handleGet(msg, sender)
	default:
		h.sendError(sender, fmt.Sprintf("Unexpected message type: %s", msg.Type))
	}
}

// HandleBinary appends one binary frame to the stream bound to the
// connection. Frames arriving on an unbound connection are discarded.
func (h *Handler) HandleBinary(connID string, data []byte, sender Sender) {
	streamID, bound := h.binding(connID)
	if !bound {
		h.sendError(sender, "No active stream for binary data")
		return
	}

	if err := h.registry.WriteChunk(streamID, data); err != nil {
		h.logger.Error("failed to write chunk", "streamId", streamID, "bytes", len(data), "error", err)
		h.sendError(sender, fmt.Sprintf("Failed to write data to stream: %s", streamID))
		return
	}

	h.metrics.Uploaded(len(data))
}

// ReleaseConnection drops the connection's binding. The stream itself
// survives: an uploaded stream outlives the connection that produced it.
func (h *Handler) ReleaseConnection(connID string) {
	h.mu.Lock()
	streamID, bound := h.bindings[connID]
	delete(h.bindings, connID)
	h.mu.Unlock()

	if bound {
		h.logger.Info("released connection binding", "connectionId", connID, "streamId", streamID)
	}
}

func (h *Handler) handleStart(msg protocol.Message, connID string, sender Sender) {
	log := h.logger.WithFields("operation", "START", "connectionId", connID, "streamId", msg.StreamID)

	if streamID, bound := h.binding(connID); bound {
		log.Warn("connection already bound", "boundStreamId", streamID)
		h.sendError(sender, fmt.Sprintf("Connection already bound to stream: %s", streamID))
		return
	}

	if err := h.registry.CreateStream(msg.StreamID); err != nil {
		log.Error("stream creation failed", "error", err)
		h.sendError(sender, fmt.Sprintf("Failed to create stream: %s", msg.StreamID))
		return
	}

	h.bind(connID, msg.StreamID)
	h.metrics.StreamCreated()

	h.send(sender, protocol.Started(msg.StreamID))
	log.Info("stream started")
}

func (h *Handler) handleStop(msg protocol.Message, connID string, sender Sender) {
	log := h.logger.WithFields("operation", "STOP", "connectionId", connID, "streamId", msg.StreamID)

	streamID, bound := h.binding(connID)
	if !bound {
		log.Warn("stop on unbound connection")
		h.sendError(sender, "No active stream to stop")
		return
	}
	if streamID != msg.StreamID {
		log.Warn("stop for a stream not bound to this connection", "boundStreamId", streamID)
		h.sendError(sender, fmt.Sprintf("Stream %s is not bound to this connection", msg.StreamID))
		return
	}

	if err := h.registry.FinalizeStream(msg.StreamID); err != nil {
		log.Error("stream finalization failed", "error", err)
		h.sendError(sender, fmt.Sprintf("Failed to finalize stream: %s", msg.StreamID))
		return
	}

	h.unbind(connID)
	h.metrics.StreamFinalized()

	h.send(sender, protocol.Stopped(msg.StreamID))
	log.Info("stream stopped")
}

func (h *Handler) handleGet(msg protocol.Message, sender Sender) {
	log := h.logger.WithFields("operation", "GET", "streamId", msg.StreamID,
		"offset", *msg.Offset, "length", *msg.Length)

	if *msg.Offset > math.MaxInt64 || *msg.Length > math.MaxInt64 {
		h.sendError(sender, "Numeric field out of range in GET message")
		return
	}
	offset := int64(*msg.Offset)
	length := int64(*msg.Length)

	data, release, err := h.readChunk(msg.StreamID, offset, length)
	if err != nil {
		if errors.Is(err, state.ErrStreamNotFound) {
			h.sendError(sender, fmt.Sprintf("Stream not found: %s", msg.StreamID))
		} else {
			log.Error("read failed", "error", err)
			h.sendError(sender, fmt.Sprintf("Failed to read from stream: %s", msg.StreamID))
		}
		return
	}
	defer release()

	if len(data) > 0 {
		if err := sender.SendBinary(data); err != nil {
			log.Warn("failed to send binary frame", "error", err)
			return
		}
		h.metrics.Downloaded(len(data))
		log.Debug("sent chunk", "bytes", len(data))
		return
	}

	// Empty read: end of stream if the offset is at or past the data,
	// otherwise a genuine failure.
	sc, err := h.registry.GetStream(msg.StreamID)
	if err == nil && offset >= sc.TotalSize() {
		log.Debug("end of stream reached")
		h.sendError(sender, "No data available")
		return
	}
	h.sendError(sender, fmt.Sprintf("Failed to read from stream: %s", msg.StreamID))
}

// readChunk stages the read in a pooled buffer when it fits, falling
// back to a plain allocation otherwise. The returned release func must
// be called once the data has been sent.
func (h *Handler) readChunk(streamID string, offset, length int64) ([]byte, func(), error) {
	if h.pool != nil && length <= int64(h.pool.BufferSize()) {
		buf := h.pool.Acquire()
		n, err := h.registry.ReadChunkInto(streamID, offset, buf[:length])
		if err != nil {
			h.pool.Release(buf)
			return nil, nil, err
		}
		return buf[:n], func() { h.pool.Release(buf) }, nil
	}

	data, err := h.registry.ReadChunk(streamID, offset, length)
	if err != nil {
		return nil, nil, err
	}
	return data, func() {}, nil
}

func (h *Handler) binding(connID string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	streamID, ok := h.bindings[connID]
	return streamID, ok
}

func (h *Handler) bind(connID, streamID string) {
	h.mu.Lock()
	h.bindings[connID] = streamID
	h.mu.Unlock()
}

func (h *Handler) unbind(connID string) {
	h.mu.Lock()
	delete(h.bindings, connID)
	h.mu.Unlock()
}

func (h *Handler) send(sender Sender, msg protocol.Message) {
	data, err := msg.Encode()
	if err != nil {
		h.logger.Error("failed to encode message", "type", msg.Type, "error", err)
		return
	}
	if err := sender.SendText(data); err != nil {
		h.logger.Warn("failed to send message", "type", msg.Type, "error", err)
	}
}

func (h *Handler) sendError(sender Sender, text string) {
	h.metrics.ErrorSent()
	h.send(sender, protocol.ErrorMessage(text))
}
