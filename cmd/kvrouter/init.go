package main

import (
	"log/slog"
	"os"

	"kvdb/internal/config"
)

// initConfig loads the YAML file and environment overrides. A missing file
// means config.Default().
func initConfig(path string) (config.Config, error) {
	cfg, found, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if !found {
		slog.Info("config file not found, using default config", "path", path)
	}
	return cfg, nil
}

func initLogger(cfg config.LoggerConfig) {
	slog.SetDefault(config.NewLogger(cfg, os.Stdout))
	slog.Info("logger initialized", "level", cfg.Level, "json", cfg.JSON)
}
