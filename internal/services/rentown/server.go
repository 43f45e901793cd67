// Package rentown wires the agreement service host: storage, the registry
// service, and the HTTP API.
package rentown

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/louisbranch/rentown/internal/platform/timeouts"
	"github.com/louisbranch/rentown/internal/services/rentown/api/httpapi"
	"github.com/louisbranch/rentown/internal/services/rentown/app"
	"github.com/louisbranch/rentown/internal/services/rentown/storage/sqlite"
)

const (
	defaultRateLimit = 25
	defaultRateBurst = 50
)

// Config defines the inputs for the agreement server.
type Config struct {
	// Addr is the HTTP listen address, e.g. ":8080".
	Addr string
	// DBPath is the SQLite database file path.
	DBPath string
	// JWTSecret signs and verifies API bearer tokens.
	JWTSecret []byte
	// RateLimit is the sustained requests per second allowed per caller.
	RateLimit float64
	// RateBurst is the per-caller burst allowance.
	RateBurst int
}

// Server hosts the agreement HTTP API over a SQLite store.
type Server struct {
	addr       string
	httpServer *http.Server
	store      *sqlite.Store
}

// NewServer builds a configured server, opening the store and wiring the
// service and API routes.
func NewServer(config Config) (*Server, error) {
	addr := strings.TrimSpace(config.Addr)
	if addr == "" {
		return nil, errors.New("http address is required")
	}
	if strings.TrimSpace(config.DBPath) == "" {
		return nil, errors.New("db path is required")
	}
	if len(config.JWTSecret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}
	if config.RateBurst <= 0 {
		config.RateBurst = defaultRateBurst
	}

	store, err := sqlite.Open(config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	service, err := app.NewService(store)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build service: %w", err)
	}

	router := httpapi.NewRouter(service,
		httpapi.NewAuthenticator(config.JWTSecret),
		httpapi.NewRateLimiter(config.RateLimit, config.RateBurst),
	)

	return &Server{
		addr: addr,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
		store: store,
	}, nil
}

// ListenAndServe runs the HTTP server until the context ends.
//
// On cancellation, it performs a bounded shutdown so in-flight requests are
// drained before hard close.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("rentown listening on %s", s.addr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases the store held by the server.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Printf("close store: %v", err)
	}
}

// Run opens a server from config and serves until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return err
	}
	defer server.Close()
	return server.ListenAndServe(ctx)
}
