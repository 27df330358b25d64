package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KolosalAI/kolosal-agent/types"
)

// ServerConfig tunes the management HTTP listener.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	ShutdownTimeout time.Duration
}

func (c *ServerConfig) applyDefaults() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		// Must exceed the request deadline so timeout envelopes still flush.
		c.WriteTimeout = 60 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 120 * time.Second
	}
	if c.MaxHeaderBytes <= 0 {
		c.MaxHeaderBytes = 1 << 20
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Server owns the HTTP listener lifecycle. Binding happens in Start so an
// occupied port surfaces as an error instead of a background log line.
type Server struct {
	cfg      ServerConfig
	handler  http.Handler
	logger   *zap.Logger
	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	errCh    chan error
}

// NewServer wraps the handler; call Start to bind and serve.
func NewServer(cfg ServerConfig, handler http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With(zap.String("component", "http_server")),
		errCh:   make(chan error, 1),
	}
}

// Start binds the listener and serves in the background. A bind failure is
// returned synchronously.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return types.NewError(types.ErrAlreadyRunning, "server already started").
			WithComponent("http_server")
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return types.NewErrorf(types.ErrDependency, "bind %s: %v", s.cfg.Addr, err).
			WithComponent("http_server").WithCause(err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:        s.handler,
		ReadTimeout:    s.cfg.ReadTimeout,
		WriteTimeout:   s.cfg.WriteTimeout,
		IdleTimeout:    s.cfg.IdleTimeout,
		MaxHeaderBytes: s.cfg.MaxHeaderBytes,
	}

	go func() {
		err := s.server.Serve(ln)
		if err != nil && err != http.ErrServerClosed {
			s.errCh <- err
		}
		close(s.errCh)
	}()

	s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, useful when Addr was ":0".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Err delivers a fatal serve error, if one occurs. The channel closes when
// the server stops.
func (s *Server) Err() <-chan error { return s.errCh }

// Stop drains in-flight requests within the shutdown timeout.
func (s *Server) Stop() error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	err := server.Shutdown(ctx)
	if err != nil {
		s.logger.Warn("graceful shutdown incomplete, closing", zap.Error(err))
		_ = server.Close()
	} else {
		s.logger.Info("http server stopped")
	}
	return err
}
