package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/geosot/gridindex/config"
	"github.com/geosot/gridindex/logging"
)

const defaultShutdownTimeout = 30 * time.Second

// ServerConfig holds listener and timeout settings.
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig gives writes a minute, enough for a full aggregation
// run at the default budgets.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    time.Minute,
		IdleTimeout:     time.Minute,
		ShutdownTimeout: defaultShutdownTimeout,
	}
}

// ServerConfigFromConfig keeps the defaults for unset durations.
func ServerConfigFromConfig(cfg *config.Config) ServerConfig {
	sc := DefaultServerConfig()
	sc.Port = cfg.Port
	for dst, src := range map[*time.Duration]time.Duration{
		&sc.ReadTimeout:     cfg.ReadTimeout,
		&sc.WriteTimeout:    cfg.WriteTimeout,
		&sc.IdleTimeout:     cfg.IdleTimeout,
		&sc.ShutdownTimeout: cfg.ShutdownTimeout,
	} {
		if src > 0 {
			*dst = src
		}
	}
	return sc
}

// Server serves the API until its context ends, then drains.
type Server struct {
	srv    *http.Server
	grace  time.Duration
	logger *logging.Logger
}

func NewServer(cfg ServerConfig, handler http.Handler, logger *logging.Logger) *Server {
	grace := cfg.ShutdownTimeout
	if grace <= 0 {
		grace = defaultShutdownTimeout
	}
	return &Server{
		srv: &http.Server{
			Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Port)),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
		grace:  grace,
		logger: logger,
	}
}

// Addr is the configured listen address.
func (s *Server) Addr() string { return s.srv.Addr }

// Run listens on the configured port and blocks like Serve.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is done or the server fails. On
// cancellation in-flight requests get the grace period to finish and Serve
// returns nil.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.srv.BaseContext = func(net.Listener) context.Context {
		return context.WithoutCancel(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.grace)
		defer cancel()

		start := time.Now()
		s.logger.Info("http server draining", "grace", s.grace)
		if err := s.srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		s.logger.Info("http server stopped", "drained_in", time.Since(start))
		return nil
	})
	return g.Wait()
}
