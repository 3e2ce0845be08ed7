package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"streamcache/internal/streamcache/handler"
	"streamcache/internal/streamcache/metrics"
	"streamcache/internal/streamcache/state"
	"streamcache/pkg/config"
	"streamcache/pkg/logger"
)

// Server accepts duplex websocket connections, assigns each a stable
// connection id, and forwards inbound frames into the dispatcher. It
// also serves the prometheus endpoint and runs the idle-eviction loop.
type Server struct {
	cfg      *config.Config
	handler  *handler.Handler
	registry *state.Registry
	metrics  *metrics.Metrics

	upgrader websocket.Upgrader
	mux      *http.ServeMux

	logger *logger.Logger
}

// New wires the server over the dispatcher and registry. promReg may be
// nil to skip the /metrics endpoint.
func New(cfg *config.Config, h *handler.Handler, registry *state.Registry, m *metrics.Metrics, promReg *prometheus.Registry) *Server {
	s := &Server{
		cfg:      cfg,
		handler:  h,
		registry: registry,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		mux:    http.NewServeMux(),
		logger: logger.WithField("component", "server"),
	}

	s.mux.HandleFunc(cfg.Server.Path, s.handleWebSocket)
	if promReg != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	}

	return s
}

// Handler exposes the HTTP surface, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until ctx is cancelled, then drains: stop accepting, shut
// the listener down, release all stream contexts. Returns an error on
// bind failure or a listener fault.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Address, s.cfg.Server.Port)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}

	srv := &http.Server{Handler: s.mux}

	s.logger.Info("server listening", "address", addr, "path", s.cfg.Server.Path)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listener failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(s.cfg.Cache.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n := s.registry.CleanupIdle(); n > 0 {
					s.logger.Info("idle streams evicted", "count", n)
					s.metrics.StreamsEvictedBy(n)
				}
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()

		s.logger.Info("shutting down server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("shutdown did not drain cleanly", "error", err)
			_ = srv.Close()
		}
		return nil
	})

	err = g.Wait()
	s.registry.Close()
	return err
}

// handleWebSocket upgrades a connection and pumps its frames into the
// dispatcher until the peer goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection", "error", err)
		return
	}

	connID := conn.RemoteAddr().String()
	log := s.logger.WithField("connectionId", connID)

	s.metrics.ConnectionOpened()
	log.Info("client connected")

	sender := newConnSender(conn)

	defer func() {
		s.handler.ReleaseConnection(connID)
		_ = conn.Close()
		s.metrics.ConnectionClosed()
		log.Info("client disconnected")
	}()

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("connection closed unexpectedly", "error", err)
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			s.handler.HandleText(connID, payload, sender)
		case websocket.BinaryMessage:
			s.handler.HandleBinary(connID, payload, sender)
		default:
			// control frames are handled by gorilla itself
		}
	}
}

// connSender serializes writes to one websocket connection so replies
// and binary frames never interleave.
type connSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newConnSender(conn *websocket.Conn) *connSender {
	return &connSender{conn: conn}
}

func (cs *connSender) SendText(data []byte) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.conn.WriteMessage(websocket.TextMessage, data)
}

func (cs *connSender) SendBinary(data []byte) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.conn.WriteMessage(websocket.BinaryMessage, data)
}
