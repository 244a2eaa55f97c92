package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"punchclock/internal/config"
	"punchclock/internal/db"
	"punchclock/internal/identity"
	"punchclock/internal/media"
	"punchclock/internal/offline"
	"punchclock/internal/punch"
	"punchclock/internal/server"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(os.Stderr)

	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	database, err := db.New(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer database.Close()

	bridge := media.NewBridge(cfg.Device.BridgeURL)
	bucket := media.NewBucketClient(cfg.Storage.BaseURL, cfg.Storage.Bucket, cfg.Storage.ServiceKey)
	adapter := media.NewAdapter(bridge, bridge, bucket)

	queue, err := offline.NewQueue(offline.NewFileStore(cfg.Offline.QueuePath))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load offline queue")
	}

	validity, err := cfg.Auth.Validity()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid token validity")
	}
	issuer := identity.NewTokenIssuer(cfg.Auth.TokenSecret, validity)

	svc := punch.New(database, adapter, identity.ContextProvider{})
	srv := server.New(cfg.Server, svc, database, queue, issuer)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	go func() {
		s := <-signals
		log.Info().Str("signal", s.String()).Msg("shutdown signal received")
		cancel()
	}()

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting punchd")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
		os.Exit(1)
	}

	log.Info().Msg("shutdown complete")
}
