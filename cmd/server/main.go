package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/nfrund/periskope/internal/app"
	"github.com/nfrund/periskope/internal/config"
	"github.com/nfrund/periskope/internal/logging"
	"github.com/nfrund/periskope/internal/server"
)

func main() {
	logging.New()

	cfg, err := config.New()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	deps, err := app.Build(ctx, cfg)
	cancel()
	if err != nil {
		slog.Error("Failed to initialize services", "error", err)
		os.Exit(1)
	}

	s, err := server.New(server.Dependencies{
		Config:   cfg,
		Store:    deps.Store,
		Feed:     deps.Feed,
		Sessions: deps.Sessions,
		Healthy:  deps.Healthy,
	})
	if err != nil {
		slog.Error("Failed to create server", "error", err)
		_ = deps.Close(context.Background())
		os.Exit(1)
	}
	s.OnShutdown(deps.Close)
	s.RegisterRoutes()

	if err := s.Start(cfg.GetAppAddr()); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
}
