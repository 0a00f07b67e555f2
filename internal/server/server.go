// Package server exposes the messaging core over HTTP: websocket streams on /ws/{userID}
// plus the previews, history, health and metrics endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"social-dm/internal/chat"
	"social-dm/internal/inbox"
	"social-dm/internal/metrics"
	"social-dm/internal/registry"
	"social-dm/internal/storage"
)

const shutdownTimeout = 10 * time.Second

// Server defines fields used in HTTP processing
type Server struct {
	logger        *zap.SugaredLogger
	httpServer    *http.Server
	h             *handler
	store         storage.MessageStore
	afterShutdown []func()
}

// NewServer wires the messaging core on top of store and applies opts to the resulting http.Server
func NewServer(logger *zap.SugaredLogger, store storage.MessageStore, opts ...Option) (*Server, error) {
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promRegistry)

	conns := registry.New()
	tracker := chat.NewTracker(logger, store, conns, m)

	h := &handler{
		logger:       logger,
		inbox:        inbox.New(logger, store, tracker),
		router:       chat.NewRouter(logger, store, conns, tracker, m),
		registry:     conns,
		writeTimeout: defaultStreamWriteTimeout,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}

	cfg := &config{
		httpServer: &http.Server{Addr: "0.0.0.0:9000"},
		h:          h,
		handlers: map[string]http.Handler{
			"/previews/get": enforcePostJson(http.HandlerFunc(h.previews)),
			"/messages/get": enforcePostJson(http.HandlerFunc(h.messages)),
			"/health":       enforceGet(http.HandlerFunc(h.health)),
			"/metrics":      enforceGet(promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})),
		},
		streams: map[string]http.Handler{
			"/ws/": http.HandlerFunc(h.stream),
		},
	}

	for _, opt := range opts {
		opt.apply(cfg)
	}
	applyLog(logger.Desugar()).apply(cfg)
	registerHandlers().apply(cfg)

	if h.writeTimeout <= 0 {
		return nil, fmt.Errorf("stream write timeout must be positive, got %v", h.writeTimeout)
	}

	// hijacked connections are invisible to Shutdown, so streams are closed explicitly
	cfg.httpServer.RegisterOnShutdown(conns.CloseAll)

	return &Server{
		logger:        logger,
		httpServer:    cfg.httpServer,
		h:             h,
		store:         store,
		afterShutdown: cfg.afterShutdown,
	}, nil
}

// Handler returns the root handler, used to serve from a foreign listener
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start calls ListenAndServe on http.Server instance inside Server struct
// and shuts down gracefully once ctx is done
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then stops streams and closes the store
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	idleConnsClosed := make(chan struct{})

	go func() {
		<-ctx.Done()

		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Errorf("srv.Shutdown: %v", err)
		}
		s.logger.Info("HTTP server is stopped")

		close(idleConnsClosed)
	}()

	s.logger.Infof("Starting HTTP server on %s", ln.Addr())
	if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("s.httpServer.Serve: %v", err)
	}

	<-idleConnsClosed

	// streams upgraded while Shutdown ran missed the first CloseAll
	s.h.registry.CloseAll()
	if !s.h.waitSessions(shutdownTimeout) {
		s.logger.Warn("Streams did not stop in time")
	}

	for _, f := range s.afterShutdown {
		f()
	}

	s.logger.Info("Closing store")
	s.store.Close()
	s.logger.Info("Store is closed")

	return nil
}
