// Command stubserver runs the SQLite-backed stand-in for the backing
// deliveries service. Point the console at it with
// UPSTREAM_BASE_URL=http://localhost:3001.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-delivery-console/internal/config"
	"github.com/tbourn/go-delivery-console/internal/stub"
)

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	db, err := stub.OpenSQLite(cfg.StubDBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.StubDBPath).Msg("open sqlite failed")
	}
	if err := stub.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}
	if cfg.StubSeed {
		if err := stub.Seed(db, time.Now()); err != nil {
			log.Fatal().Err(err).Msg("seed failed")
		}
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	r.Use(gin.Recovery())
	stub.NewServer(db, log.Logger).Register(r)

	port := os.Getenv("STUB_PORT")
	if port == "" {
		port = "3001"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", srv.Addr).Str("db", cfg.StubDBPath).Msg("stub deliveries service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("stub server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
