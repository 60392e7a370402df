package main

import (
	"flag"
	"os"

	"github.com/noah-isme/backend-revshare/internal/config"
	"github.com/noah-isme/backend-revshare/internal/migrations"
	"github.com/noah-isme/backend-revshare/internal/obs"
)

func main() {
	direction := flag.String("direction", "up", "up or down")
	steps := flag.Int("steps", 1, "number of migrations to roll back with -direction=down")
	flag.Parse()

	logger := obs.NewLogger("console", "info").With().Str("component", "migrate").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	m, err := migrations.New(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("init migrator")
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Error().AnErr("source", srcErr).AnErr("database", dbErr).Msg("close migrator")
		}
	}()

	switch *direction {
	case "up":
		err = migrations.Up(m)
	case "down":
		err = migrations.Down(m, *steps)
	default:
		logger.Error().Str("direction", *direction).Msg("unknown direction")
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal().Err(err).Str("direction", *direction).Msg("migrate")
	}

	version, dirty, err := m.Version()
	if err != nil {
		logger.Info().Str("direction", *direction).Msg("migrations applied, no version recorded")
		return
	}
	logger.Info().Str("direction", *direction).Uint("version", version).Bool("dirty", dirty).Msg("migrations applied")
}
