// Command veridictd runs the prediction market server. It loads
// configuration, brings the database schema up to date, and serves the
// HTTP API until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/veridict/veridict/pkg/auth"
	"github.com/veridict/veridict/pkg/config"
	"github.com/veridict/veridict/pkg/marketapi"
)

func main() {
	economicsPath := flag.String("economics", "", "path to economics YAML file")
	pretty := flag.Bool("pretty", false, "human-readable console logging")
	flag.Parse()

	cfg, err := config.Load(*economicsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading-config")
	}

	if *pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid-config")
	}

	if err := marketapi.EnsureMigrations(&marketapi.Config{
		DBMigrationsPath: cfg.DBMigrationsPath,
		DBPath:           cfg.DBPath,
	}); err != nil {
		log.Fatal().Err(err).Msg("migrations")
	}

	store, err := marketapi.NewSqliteStore(cfg.DBPath, cfg.Economics)
	if err != nil {
		log.Fatal().Err(err).Msg("opening-store")
	}
	defer store.Close()

	signer := auth.NewSigner(cfg.JWTSecret)
	service := marketapi.NewMarketService(store, signer, cfg.AdminUsers)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      service.Handler(cfg.CORSOrigins),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("server-listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server-failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting-down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Err(err).Msg("shutdown")
	}
}
