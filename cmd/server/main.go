package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/gorooms/internal/config"
	"github.com/Tyrowin/gorooms/internal/logging"
	"github.com/Tyrowin/gorooms/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(cfg.LoggingSettings())

	app, err := server.NewApp(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to build server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Str("port", cfg.Server.Port).
		Strs("allowed_origins", cfg.Server.AllowedOrigins).
		Msg("starting gorooms server")

	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("server stopped with error")
		stop()
		os.Exit(1)
	}
	logging.Info().Msg("server stopped")
}
