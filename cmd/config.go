package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"procodus.dev/ipdr/internal/store"
	"procodus.dev/ipdr/pkg/logger"
)

// InitConfig initializes Viper configuration.
// It supports reading from config files (config.yaml) and environment
// variables prefixed with IPDR_ (db.host is IPDR_DB_HOST).
func InitConfig(cfgFile string) error {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in current directory and /etc/ipdr/
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/ipdr/")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// Environment variables
	viper.SetEnvPrefix("IPDR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		var configNotFoundErr viper.ConfigFileNotFoundError
		if errors.As(err, &configNotFoundErr) {
			// Config file not found; rely on env vars and defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// GetLogger creates a slog.Logger based on configuration.
func GetLogger() *slog.Logger {
	return logger.FromLevelString(viper.GetString("log.level"))
}

// dbConfig builds the store configuration from the db.* keys.
func dbConfig(log *slog.Logger) *store.DBConfig {
	return &store.DBConfig{
		Logger:     log,
		Driver:     viper.GetString("db.driver"),
		Host:       viper.GetString("db.host"),
		Port:       viper.GetInt("db.port"),
		User:       viper.GetString("db.user"),
		Password:   viper.GetString("db.password"),
		DBName:     viper.GetString("db.name"),
		SSLMode:    viper.GetString("db.sslmode"),
		SQLitePath: viper.GetString("db.sqlite.path"),
	}
}

// ingestLocation loads the ingest.timezone zone.
func ingestLocation() (*time.Location, error) {
	name := viper.GetString("ingest.timezone")
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid ingest.timezone %q: %w", name, err)
	}
	return loc, nil
}
