package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mistakeknot/miochat/internal/auth"
	"github.com/mistakeknot/miochat/internal/config"
	httpapi "github.com/mistakeknot/miochat/internal/http"
	"github.com/mistakeknot/miochat/internal/metrics"
	"github.com/mistakeknot/miochat/internal/ratelimit"
	"github.com/mistakeknot/miochat/internal/server"
	"github.com/mistakeknot/miochat/internal/storage/sqlite"
	"github.com/mistakeknot/miochat/internal/ws"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

func serveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and WebSocket event channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, a.cfg)
		},
	}
	f := cmd.Flags()
	f.String("addr", "", "TCP listen address")
	f.String("socket", "", "optional unix socket path")
	f.Bool("watch-keys", true, "reload the keyring when the keys file changes")
	f.Float64("send-rate", 0, "messages per second allowed per sender (0 disables)")
	f.Int("send-burst", 0, "send burst per sender")
	f.String("block-policy", "", "list_only or suppress_delivery")
	f.Int("search-limit", 0, "maximum profiles per search")
	f.Int("history-limit", 0, "maximum messages per conversation load (0 for all)")
	f.Duration("slow-query", 0, "log store queries slower than this")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	log := logrus.WithField("component", "serve")

	inner, err := sqlite.New(cfg.DB, sqlite.WithSlowQueryThreshold(cfg.SlowQuery))
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	store := sqlite.NewResilient(inner)
	defer store.Close()

	m := metrics.New()
	store.Breaker().OnStateChange(func(_, to sqlite.BreakerState) {
		m.BreakerState.Set(float64(to))
	})

	ring, err := auth.LoadKeyring(cfg.KeysFile)
	if err != nil {
		return errors.Wrap(err, "load keyring")
	}
	if ring.Len() == 0 {
		log.WithField("keys_file", cfg.KeysFile).Warn("No tokens configured; add one with `miochat users add`")
	}
	if cfg.WatchKeys {
		if err := auth.Watch(ctx, cfg.KeysFile, ring); err != nil {
			log.WithField("error", err.Error()).Warn("Keyring hot reload disabled")
		}
	}

	hub := ws.NewHub().WithMetrics(m)
	svc := httpapi.NewService(store).
		WithBroadcaster(hub).
		WithMetrics(m).
		WithBlockPolicy(cfg.BlockPolicy).
		WithLimiter(ratelimit.New(cfg.SendRate, cfg.SendBurst, 10*time.Minute)).
		WithLimits(cfg.SearchLimit, cfg.HistoryLimit)
	router := httpapi.NewRouter(svc, hub.Handler(), auth.Middleware(ring))

	srv, err := server.New(server.Config{Addr: cfg.Addr, SocketPath: cfg.Socket, Handler: router})
	if err != nil {
		return errors.Wrap(err, "init server")
	}
	if err := srv.Listen(); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"addr":         srv.Addr(),
		"db":           cfg.DB,
		"block_policy": cfg.BlockPolicy,
	}).Info("MioChat serving")

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return <-errc
}
