package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/levkk/rwf/internal/config"
	"github.com/levkk/rwf/internal/logging"
	"github.com/levkk/rwf/server"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	appPath := flag.String("app", "", "Path to the application file (overrides config)")
	listen := flag.String("listen", "", "Main listener address (overrides config)")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("rwf %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.NewLoader().Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *appPath != "" {
		cfg.App.Path = *appPath
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if cfg.App.Path == "" {
		fmt.Fprintln(os.Stderr, "No application file: set app.path in the config or pass -app")
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	logging.Info("Starting rwf",
		zap.String("version", version),
		zap.String("app", cfg.App.Path),
		zap.String("kind", cfg.App.Kind),
	)

	srv, err := server.New(cfg)
	if err != nil {
		logging.Error("Failed to create server", zap.Error(err))
		os.Exit(1)
	}

	if err := srv.Run(); err != nil {
		logging.Error("Server error", zap.Error(err))
		os.Exit(1)
	}
}
