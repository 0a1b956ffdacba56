package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignite/recruit-cdp/internal/api"
	"github.com/ignite/recruit-cdp/internal/app"
	"github.com/ignite/recruit-cdp/internal/config"
	"github.com/ignite/recruit-cdp/internal/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := "config/config.yaml"
	if p := os.Getenv("CDP_CONFIG"); p != "" {
		configPath = p
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	handlers := api.NewHandlers(a.Service, a.Sweeps)
	handlers.SetTypeformDecoder(a.Typeform)
	if a.ResendHook != nil {
		handlers.SetResendVerifier(a.ResendHook)
	}
	handlers.SetTemplatePreview(a.Repo, a.Renderer)

	var archive api.Pinger
	if a.Archive != nil {
		archive = a.Archive
	}
	health := api.NewHealthChecker(a.DB, a.Redis, a.Repo, archive)
	server := api.NewServer(cfg.Server, handlers, health)

	if cfg.Worker.Enabled {
		if err := a.Sweeps.Start(); err != nil {
			return err
		}
		defer a.Sweeps.Stop()
		logger.Info("in-process sweep worker started", "sweeps", a.Sweeps.Names())
	} else {
		logger.Info("sweep worker disabled; run sweeps with cmd/cdp or the API")
	}

	return server.Run(ctx)
}
