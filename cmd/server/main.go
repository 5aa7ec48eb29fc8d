package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	webAdapter "inventory-ledger/internal/adapters/web"
	"inventory-ledger/internal/bootstrap"
	"inventory-ledger/internal/config"
	"inventory-ledger/internal/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("INVLEDGER_CONFIG"))
	if err != nil {
		logger.New("dev", "text").Error("config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.App.Env, cfg.Log.Format)
	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Error("shutdown", "error", err)
		}
	}()

	opts := webAdapter.Options{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Observer:       rt.Metrics,
		Ready:          rt.Ready,
		Log:            log,
	}
	if cfg.Metrics.Enabled {
		opts.Metrics = rt.Metrics.Handler()
	}
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           webAdapter.NewHandler(rt.Service, opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting", "addr", cfg.HTTP.Addr, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if rt.Relay != nil {
		g.Go(func() error {
			log.Info("ledger feed starting", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
			return rt.Relay.Run(gctx)
		})
	}
	return g.Wait()
}
