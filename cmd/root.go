// Package main provides the ipdr command line: the server, file ingestion,
// the mock data generator and the suspicion classifier sync.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "ipdr",
		Short: "IPDR ingestion and geo-temporal query service",
		Long: `Ingests Internet Protocol Detail Records and subscriber profiles and answers
proximity, statistics and location queries over them:
- server: HTTP API, gRPC health and queue consumers
- ingest: load CSV, JSON or XLSX files into the store
- generator: write or publish mock records
- classify: label records with the external suspicion classifier`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or /etc/ipdr/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("db-driver", "postgres", "database driver (postgres, sqlite)")
	rootCmd.PersistentFlags().String("db-host", "localhost", "PostgreSQL host")
	rootCmd.PersistentFlags().Int("db-port", 5432, "PostgreSQL port")
	rootCmd.PersistentFlags().String("db-user", "postgres", "PostgreSQL user")
	rootCmd.PersistentFlags().String("db-password", "", "PostgreSQL password")
	rootCmd.PersistentFlags().String("db-name", "ipdr", "PostgreSQL database name")
	rootCmd.PersistentFlags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	rootCmd.PersistentFlags().String("sqlite-path", "ipdr.db", "SQLite database file")
	rootCmd.PersistentFlags().String("timezone", "Asia/Kolkata", "zone for timestamps without an offset and for monthly statistics")

	// Bind flags to viper
	for key, flag := range map[string]string{
		"log.level":       "log-level",
		"db.driver":       "db-driver",
		"db.host":         "db-host",
		"db.port":         "db-port",
		"db.user":         "db-user",
		"db.password":     "db-password",
		"db.name":         "db-name",
		"db.sslmode":      "db-sslmode",
		"db.sqlite.path":  "sqlite-path",
		"ingest.timezone": "timezone",
	} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			log.Fatalf("failed to bind %s flag: %v", flag, err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if err := InitConfig(cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Log config file being used
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}
