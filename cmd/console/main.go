package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gulfclinic/clinicadmin/internal/cli/commands"
	"github.com/gulfclinic/clinicadmin/internal/config"
	"github.com/gulfclinic/clinicadmin/internal/logger"
)

var version = "dev" // Will be set during build with -ldflags

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.GetLogger()

	commands.SetVersion(version)
	log.Info().Str("version", version).Msg("Starting clinic admin console...")

	// Serve until SIGINT/SIGTERM
	if err := commands.RunConsole(context.Background(), commands.WithConfig(cfg)); err != nil {
		log.Fatal().Err(err).Msg("Console stopped with error")
	}
}
