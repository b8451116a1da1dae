package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pairlink/pairlink/internal/agent"
	"github.com/pairlink/pairlink/internal/config"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.LoadAgent()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setLogLevel(cfg.LogLevel)

	guard, err := agent.NewDirGuard(cfg.AllowedDirs)
	if err != nil {
		log.Fatal().Err(err).Msg("ALLOWED_DIRS must list at least one directory (colon-separated)")
	}

	mux := agent.NewMultiplexer(guard, cfg.SessionCap, func(dir string) *agent.Worker {
		return agent.NewWorker(cfg.CLIPath(), dir, cfg.RestartDelay())
	})
	defer mux.CloseAll()

	store := agent.NewStateStore(cfg.StateDir)
	client := agent.NewClient(cfg, mux, store)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("hub", cfg.HubURL).
		Str("deviceId", client.DeviceID()).
		Str("deviceName", cfg.DeviceName).
		Msg("starting agent")

	client.Run(ctx)
	log.Info().Msg("agent stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
