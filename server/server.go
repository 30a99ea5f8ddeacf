package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"parlor/chat"
	"parlor/config"
	"parlor/db"
)

const readHeaderTimeout = 10 * time.Second

// client is a live connection the server can close on shutdown.
type client interface {
	chat.Conn
	Close(reason string)
}

type Server struct {
	cfg      *config.Config
	store    db.Store
	registry *chat.Registry
	router   *chat.Router
	sessions *SessionStore
	logger   *slog.Logger
	upgrader websocket.Upgrader

	httpServer *http.Server

	mu      sync.RWMutex
	clients map[uuid.UUID]client

	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg *config.Config, store db.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	registry := chat.NewRegistry()
	router := chat.NewRouter(store, registry, chat.Options{
		PushTimeout: cfg.Server.PushTimeout,
		Concurrency: cfg.Server.FanoutConcurrency,
	}, logger.With("component", "router"))

	s := &Server{
		cfg:      cfg,
		store:    store,
		registry: registry,
		router:   router,
		sessions: NewSessionStore(cfg.Server.SessionTTL),
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[uuid.UUID]client),
		stopCh:  make(chan struct{}),
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	return s
}

// Run listens on the configured addresses and serves until ctx is done or
// a shutdown is requested over the control socket.
func (s *Server) Run(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", s.cfg.HTTPAddr())
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}

	var lineLn net.Listener
	if addr := s.cfg.LineAddr(); addr != "" {
		lineLn, err = net.Listen("tcp", addr)
		if err != nil {
			httpLn.Close()
			return fmt.Errorf("listen line protocol: %w", err)
		}
	}

	var controlLn net.Listener
	if path := s.cfg.Control.Socket; path != "" {
		controlLn, err = listenControl(path)
		if err != nil {
			// the chat keeps working without the operator socket
			s.logger.Warn("control socket unavailable", "path", path, "error", err)
			controlLn = nil
		}
	}

	return s.Serve(ctx, httpLn, lineLn, controlLn)
}

// Serve runs on already-open listeners. lineLn and controlLn may be nil.
func (s *Server) Serve(ctx context.Context, httpLn, lineLn, controlLn net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("http server started", "addr", httpLn.Addr().String())
		if err := s.httpServer.Serve(httpLn); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if lineLn != nil {
		g.Go(func() error {
			s.logger.Info("line server started", "addr", lineLn.Addr().String())
			return s.acceptLines(gctx, lineLn)
		})
	}
	if controlLn != nil {
		g.Go(func() error {
			s.logger.Info("control socket listening", "path", controlLn.Addr().String())
			return s.acceptControl(controlLn)
		})
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-s.stopCh:
		}
		return s.shutdown(lineLn, controlLn)
	})

	return g.Wait()
}

// Stop asks a running Serve to shut down gracefully.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Server) shutdown(listeners ...net.Listener) error {
	s.logger.Info("shutting down")

	for _, ln := range listeners {
		if ln != nil {
			ln.Close()
		}
	}
	s.disconnectAll("shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	s.logger.Info("graceful shutdown complete")
	return nil
}

func (s *Server) addClient(c client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ID()] = c
}

func (s *Server) removeClient(c client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.ID())
}

// disconnectAll closes every live connection, telling it why.
func (s *Server) disconnectAll(reason string) {
	s.mu.RLock()
	clients := make([]client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		s.registry.Unregister(c)
		c.Close(reason)
	}
}

// Stats returns the registry summary reported on the control socket.
func (s *Server) Stats() string {
	stats := s.registry.Stats()
	return fmt.Sprintf("users=%d,connections=%d,online=%s",
		stats.Users, stats.Connections, strings.Join(s.registry.Users(), ";"))
}
