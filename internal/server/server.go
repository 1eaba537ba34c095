// Package server constructs, starts, and stops the chat relay: the TCP line
// listener, the HTTP side server, and the sessions they spawn.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Server owns the Registry and every listener. Sessions reach shared state
// only through it.
type Server struct {
	cfg      Config
	log      *slog.Logger
	registry *Registry
	metrics  *Metrics
	mirror   Mirror
	feed     *mirrorFeed
	origins  *originPolicy

	mu           sync.Mutex
	listener     net.Listener
	httpListener net.Listener
	httpServer   *http.Server
	group        *errgroup.Group
	cancel       context.CancelFunc

	closed   bool
	conns    map[*Connection]struct{}
	sessions sync.WaitGroup
}

// Option customizes a Server built by New.
type Option func(*Server)

// WithMirror routes a copy of every room broadcast to m.
func WithMirror(m Mirror) Option {
	return func(s *Server) {
		if m != nil {
			s.mirror = m
		}
	}
}

// New builds a Server from cfg. Nothing is bound until Start.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Server {
	cfg = cfg.sanitize()
	if logger == nil {
		logger = discardLogger()
	}
	registry := NewRegistry(cfg.MaxClients, logger)
	s := &Server{
		cfg:      cfg,
		log:      logger,
		registry: registry,
		metrics:  NewMetrics(registry),
		mirror:   noopMirror{},
		origins:  newOriginPolicy(cfg.AllowedOrigins, logger),
		conns:    make(map[*Connection]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.feed = newMirrorFeed(s.mirror, mirrorQueueSize, logger)
	return s
}

// Registry exposes the server's connection registry.
func (s *Server) Registry() *Registry { return s.registry }

// Metrics exposes the server's collectors.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config { return s.cfg }

// Start binds the chat listener and, when configured, the HTTP listener,
// then serves both in the background until ctx is done or Shutdown is called.
// Bind failures are returned before anything is served.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ChatAddr)
	if err != nil {
		return fmt.Errorf("listen chat %s: %w", s.cfg.ChatAddr, err)
	}

	var httpLn net.Listener
	if s.cfg.HTTPAddr != "" {
		httpLn, err = net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("listen http %s: %w", s.cfg.HTTPAddr, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)

	s.mu.Lock()
	s.listener = ln
	s.httpListener = httpLn
	s.group = group
	s.cancel = cancel
	if httpLn != nil {
		s.httpServer = CreateServer(httpLn.Addr().String(), SetupRoutes(s))
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	group.Go(func() error {
		return s.acceptLoop(ln)
	})
	if httpServer != nil {
		group.Go(func() error {
			s.log.Info("http server listening", "addr", httpLn.Addr().String())
			if err := httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve http: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		<-gctx.Done()
		s.closeListener()
		if httpServer != nil {
			shutdownCtx, stop := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
			defer stop()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				s.log.Warn("http server shutdown error", "err", err)
			}
		}
		return nil
	})

	s.log.Info("chat server listening", "addr", ln.Addr().String(), "capacity", s.registry.Capacity())
	return nil
}

// Addr returns the bound chat address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// HTTPAddr returns the bound HTTP address, or nil if the side server is disabled.
func (s *Server) HTTPAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpListener == nil {
		return nil
	}
	return s.httpListener.Addr()
}

// Wait blocks until the listeners stop and returns the first serving error.
func (s *Server) Wait() error {
	s.mu.Lock()
	group := s.group
	s.mu.Unlock()
	if group == nil {
		return nil
	}
	return group.Wait()
}

// ServeTransport is the accept hook: it wraps t in a Connection and runs its
// session on its own goroutine. It never blocks on the session.
// Once Shutdown has begun the transport is closed instead.
func (s *Server) ServeTransport(t Transport, addr string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.log.Debug("refusing connection during shutdown", "addr", addr)
		if err := t.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Warn("error closing refused transport", "addr", addr, "err", err)
		}
		return
	}
	conn := NewConnection(t, addr, s.cfg, s.log)
	s.conns[conn] = struct{}{}
	s.sessions.Add(1)
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
			s.sessions.Done()
		}()
		newSession(s, conn).run()
	}()
}

// Shutdown stops accepting, closes every open connection, and waits up to
// timeout for sessions to finish. Active sessions are not drained.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.log.Info("initiating shutdown")

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	waitErr := s.Wait()

	// Hijacked WebSocket handlers outlive the HTTP server's shutdown and may
	// still hand over a transport; from here on ServeTransport refuses them.
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.closeConnections()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		s.log.Info("shutdown completed")
	case <-time.After(timeout):
		s.log.Warn("shutdown timeout reached, some sessions may still be running")
		err = context.DeadlineExceeded
	}

	if cerr := s.feed.close(s.cfg.ShutdownTimeout); cerr != nil {
		s.log.Warn("mirror close error", "err", cerr)
	}
	return errors.Join(waitErr, err)
}

func (s *Server) closeListener() {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		if err := ln.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Warn("error closing chat listener", "err", err)
		}
	}
}

// closeConnections closes the transport of every open connection, admitted
// or still negotiating, so each session sees a read error and tears down.
func (s *Server) closeConnections() {
	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.closeTransport()
	}
	s.log.Info("closed client connections", "count", len(conns), "admitted", s.registry.Len())
}

// CreateServer creates and configures an HTTP server with the specified address and handler.
// It sets reasonable timeout values for production use. The write timeout is
// left unset because hijacked WebSocket connections manage their own deadlines.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
