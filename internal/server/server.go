package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"example.com/thermoweb/v2/internal/config"
	"example.com/thermoweb/v2/internal/logger"
	"example.com/thermoweb/v2/internal/util"
)

// Server manages the HTTP listener lifecycle. Start returns as soon as the
// socket is bound; requests are served in the background.
type Server struct {
	cfg    *config.ServerConfig
	log    *logger.Logger
	router RouterInterface

	// listen creates the listener; replaced in tests.
	listen func(address string) (net.Listener, error)

	mu       sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
	done     chan struct{}
	serveErr error
}

// NewServer creates a new Server instance.
func NewServer(cfg *config.ServerConfig, lg *logger.Logger, router RouterInterface) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("server config cannot be nil")
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if router == nil {
		return nil, fmt.Errorf("router cannot be nil")
	}
	return &Server{cfg: cfg, log: lg, router: router, listen: defaultListen}, nil
}

// defaultListen prefers a socket-activated listener and otherwise binds address.
func defaultListen(address string) (net.Listener, error) {
	ln, err := util.ActivatedListener()
	if err == nil {
		return ln, nil
	}
	if !errors.Is(err, util.ErrNoActivation) {
		return nil, err
	}
	return util.CreateListener("tcp", address)
}

// stdLogWriter feeds net/http's internal log lines into the error log.
type stdLogWriter struct{ log *logger.Logger }

func (w stdLogWriter) Write(p []byte) (int, error) {
	w.log.Warn(strings.TrimSpace(string(p)), logger.LogFields{"source": "net/http"})
	return len(p), nil
}

func (s *Server) buildHTTPServer() *http.Server {
	var handler http.Handler = s.router
	if s.cfg.EnableH2C != nil && *s.cfg.EnableH2C {
		h2s := &http2.Server{}
		if s.cfg.IdleTimeout != nil {
			h2s.IdleTimeout = s.cfg.IdleTimeout.Duration
		}
		handler = h2c.NewHandler(handler, h2s)
	}
	srv := &http.Server{
		Handler:  handler,
		ErrorLog: log.New(stdLogWriter{s.log}, "", 0),
	}
	if s.cfg.ReadTimeout != nil {
		srv.ReadHeaderTimeout = s.cfg.ReadTimeout.Duration
	}
	if s.cfg.WriteTimeout != nil {
		srv.WriteTimeout = s.cfg.WriteTimeout.Duration
	}
	if s.cfg.IdleTimeout != nil {
		srv.IdleTimeout = s.cfg.IdleTimeout.Duration
	}
	return srv
}

// Start binds the configured address and serves in a goroutine.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv != nil {
		return fmt.Errorf("server already started")
	}

	address := ""
	if s.cfg.Address != nil {
		address = *s.cfg.Address
	}
	ln, err := s.listen(address)
	if err != nil {
		if util.IsAddrInUse(err) {
			s.log.Error("Listen address already in use", logger.LogFields{"address": address})
		}
		return fmt.Errorf("failed to listen on %q: %w", address, err)
	}

	srv := s.buildHTTPServer()
	done := make(chan struct{})
	s.httpSrv, s.listener, s.done, s.serveErr = srv, ln, done, nil

	s.log.Info("Server listening", logger.LogFields{
		"address": ln.Addr().String(),
		"h2c":     s.cfg.EnableH2C != nil && *s.cfg.EnableH2C,
	})
	go func() {
		defer close(done)
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Server stopped with error", logger.LogFields{"error": err.Error()})
			s.mu.Lock()
			s.serveErr = err
			s.mu.Unlock()
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Done is closed when the serve loop exits. It is nil before Start.
func (s *Server) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Shutdown stops accepting, waits for in-flight requests until ctx expires,
// then force-closes what remains. The server may be started again afterwards.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.httpSrv, s.done
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	if err != nil {
		s.log.Warn("Graceful shutdown incomplete, closing connections", logger.LogFields{"error": err.Error()})
		_ = srv.Close()
	}
	<-done

	s.mu.Lock()
	serveErr := s.serveErr
	s.httpSrv, s.listener = nil, nil
	s.mu.Unlock()

	if err != nil {
		return err
	}
	return serveErr
}
