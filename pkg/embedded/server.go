// Package embedded runs a complete MioChat server in-process: SQLite store,
// HTTP API and WebSocket event channel.
package embedded

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mistakeknot/miochat/internal/auth"
	"github.com/mistakeknot/miochat/internal/cli"
	"github.com/mistakeknot/miochat/internal/config"
	httpapi "github.com/mistakeknot/miochat/internal/http"
	"github.com/mistakeknot/miochat/internal/metrics"
	"github.com/mistakeknot/miochat/internal/ratelimit"
	"github.com/mistakeknot/miochat/internal/server"
	"github.com/mistakeknot/miochat/internal/storage/sqlite"
	"github.com/mistakeknot/miochat/internal/ws"
	"github.com/sirupsen/logrus"
)

// Config configures the embedded server
type Config struct {
	// DBPath is the path to the SQLite database file.
	// If empty, defaults to ~/.miochat/miochat.db
	DBPath string

	// KeysFile is the token keyring. If empty, miochat.keys.yaml next to
	// the database.
	KeysFile string

	// Host is the host to bind to.
	// If empty, defaults to localhost (127.0.0.1).
	Host string

	// Port is the HTTP port to listen on. 0 picks a free port; URL reports it.
	Port int

	BlockPolicy config.BlockPolicy
	SendRate    float64
	SendBurst   int
}

// Server is an embedded MioChat server
type Server struct {
	cfg     Config
	store   *sqlite.ResilientStore
	ring    *auth.Keyring
	hub     *ws.Hub
	metrics *metrics.Metrics
	srv     *server.Server
	started bool
	mu      sync.Mutex
	log     *logrus.Entry
}

// New opens the database and keyring and wires the API. Call Start to serve.
func New(cfg Config) (*Server, error) {
	if cfg.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		cfg.DBPath = filepath.Join(home, ".miochat", "miochat.db")
	}
	if cfg.KeysFile == "" {
		cfg.KeysFile = filepath.Join(filepath.Dir(cfg.DBPath), "miochat.keys.yaml")
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.BlockPolicy == "" {
		cfg.BlockPolicy = config.BlockListOnly
	}
	if !cfg.BlockPolicy.Valid() {
		return nil, fmt.Errorf("invalid block policy %q", cfg.BlockPolicy)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	inner, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	ring, err := auth.LoadKeyring(cfg.KeysFile)
	if err != nil {
		inner.Close()
		return nil, fmt.Errorf("load keyring: %w", err)
	}

	m := metrics.New()
	store := sqlite.NewResilient(inner)
	store.Breaker().OnStateChange(func(_, to sqlite.BreakerState) {
		m.BreakerState.Set(float64(to))
	})
	hub := ws.NewHub().WithMetrics(m)
	svc := httpapi.NewService(store).
		WithBroadcaster(hub).
		WithMetrics(m).
		WithBlockPolicy(cfg.BlockPolicy).
		WithLimiter(ratelimit.New(cfg.SendRate, cfg.SendBurst, 10*time.Minute))
	router := httpapi.NewRouter(svc, hub.Handler(), auth.Middleware(ring))

	srv, err := server.New(server.Config{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: router,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	return &Server{
		cfg:     cfg,
		store:   store,
		ring:    ring,
		hub:     hub,
		metrics: m,
		srv:     srv,
		log:     logrus.WithField("component", "embedded"),
	}, nil
}

// Start binds the listener and serves in a goroutine.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if err := s.srv.Listen(); err != nil {
		return err
	}
	s.started = true
	go func() {
		if err := s.srv.Start(); err != nil {
			s.log.WithField("error", err.Error()).Error("Embedded server stopped")
		}
	}()
	return nil
}

// Stop shuts the server down gracefully and closes the database.
func (s *Server) Stop() error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()

	var errs []error
	if started {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, s.srv.Shutdown(ctx))
	}
	errs = append(errs, s.store.Close())
	return errors.Join(errs...)
}

// AddUser creates a profile and returns its bearer token. The token is
// usable immediately.
func (s *Server) AddUser(ctx context.Context, email, username string) (cli.AddedUser, error) {
	added, err := cli.AddUser(ctx, s.store, s.cfg.KeysFile, cli.NewUser{Email: email, Username: username})
	if err != nil {
		return cli.AddedUser{}, err
	}
	if err := s.ring.Reload(s.cfg.KeysFile); err != nil {
		return cli.AddedUser{}, fmt.Errorf("reload keyring: %w", err)
	}
	return added, nil
}

// Addr returns the server's listen address
func (s *Server) Addr() string {
	return s.srv.Addr()
}

// URL returns the base URL for the server
func (s *Server) URL() string {
	return "http://" + s.srv.Addr()
}

// Store returns the underlying store for direct access if needed
func (s *Server) Store() *sqlite.ResilientStore {
	return s.store
}

func (s *Server) Hub() *ws.Hub {
	return s.hub
}
