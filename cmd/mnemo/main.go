package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/mnemo/internal/app"
	"github.com/ternarybob/mnemo/internal/common"
	"github.com/ternarybob/mnemo/internal/server"
)

var (
	configFile   = flag.String("config", "", "Configuration file path")
	configFileC  = flag.String("c", "", "Configuration file path (shorthand)")
	serverPort   = flag.Int("port", 0, "Server port (overrides config)")
	serverPortP  = flag.Int("p", 0, "Server port (shorthand)")
	dataDir      = flag.String("data-dir", "", "Data directory (overrides config)")
	showVersion  = flag.Bool("version", false, "Print version and exit")
	showVersionV = flag.Bool("v", false, "Print version and exit (shorthand)")
)

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("mnemo version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// Shorthand flags win when both forms are given.
	port := *serverPort
	if *serverPortP != 0 {
		port = *serverPortP
	}
	configPath := *configFile
	if *configFileC != "" {
		configPath = *configFileC
	}
	if configPath == "" {
		configPath = discoverConfig()
	}

	// Config before logger: the logging section decides the writers.
	config, err := common.LoadFromFile(configPath)
	if err != nil {
		arbor.NewLogger().Fatal().Str("path", configPath).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}
	common.ApplyFlagOverrides(config, port, *dataDir)

	logger := common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	logger.Info().
		Str("config_file", configPath).
		Str("host", config.Server.Host).
		Int("port", config.Server.Port).
		Str("data_dir", config.Storage.DataDir).
		Msg("Configuration loaded")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer application.Close()

	srv := server.New(application)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Fatal().Str("panic", fmt.Sprintf("%v", r)).Msg("HTTP server panicked")
			}
		}()
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Let the listener fail fast before announcing readiness.
	time.Sleep(100 * time.Millisecond)
	logger.Info().Msg("Memory service ready - press Ctrl+C to stop")

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	<-interrupts

	logger.Info().Msg("Interrupt received, shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}

	logger.Info().Msg("Server stopped")
}

// discoverConfig looks for mnemo.toml beside the working directory, then in
// the local deployment folder used when running from a source checkout.
func discoverConfig() string {
	for _, candidate := range []string{"mnemo.toml", filepath.Join("deployments", "local", "mnemo.toml")} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
