package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/planning-poker/internal/config"
	"github.com/DoyleJ11/planning-poker/internal/httpapi"
	"github.com/DoyleJ11/planning-poker/internal/hub"
	"github.com/DoyleJ11/planning-poker/internal/logging"
	"github.com/DoyleJ11/planning-poker/internal/membership"
	"github.com/DoyleJ11/planning-poker/internal/store"
	"github.com/DoyleJ11/planning-poker/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() (err error) {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "planning-poker", cfg.OTelEndpoint)
	if err != nil {
		return err
	}

	snapshots, err := store.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return err
	}

	var members membership.Repository = membership.NewMemory()
	if cfg.DatabaseURL != "" {
		if members, err = membership.OpenGorm(cfg.DatabaseURL, logger.Named("membership")); err != nil {
			return multierr.Append(err, snapshots.Close())
		}
	}

	roomOpts := cfg.RoomOptions()
	roomOpts.Store = snapshots
	roomOpts.Logger = logger.Named("room")
	// The hub outlives the signal context so in-flight requests can drain.
	h := hub.NewHub(context.Background(), roomOpts)

	// Build the router *with* the hub injected
	handler := httpapi.SetupRoutes(httpapi.Deps{
		Hub:            h,
		Members:        members,
		CodeLength:     cfg.RoomCodeLength,
		OriginPatterns: cfg.WSOriginPatterns,
		Logger:         logger,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = multierr.Append(err, srv.Shutdown(shutdownCtx))
	h.Shutdown()
	return multierr.Combine(
		err,
		snapshots.Close(),
		members.Close(),
		shutdownTracing(shutdownCtx),
	)
}
