package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/ipdr/internal/backend"
	"procodus.dev/ipdr/pkg/metrics"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the IPDR server",
	Long: `Run the IPDR server that:
- Serves the HTTP API and Prometheus metrics
- Reports store health over gRPC
- Consumes IPDR and profile rows from RabbitMQ
- Persists data to PostgreSQL or SQLite`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	// Server-specific flags
	serverCmd.Flags().Int("http-port", 8080, "HTTP server port")
	serverCmd.Flags().Int("grpc-port", 9090, "gRPC server port")
	serverCmd.Flags().String("rabbitmq-url", "", "RabbitMQ URL (empty disables queue ingestion)")
	serverCmd.Flags().String("ipdr-queue", "ipdr-rows", "RabbitMQ queue for IPDR rows")
	serverCmd.Flags().String("profile-queue", "profile-rows", "RabbitMQ queue for profile rows")
	serverCmd.Flags().String("nominatim-url", "https://nominatim.openstreetmap.org", "Nominatim base URL (empty disables geocoding)")
	serverCmd.Flags().String("nominatim-user-agent", "ipdr-server/1.0", "User-Agent sent to Nominatim")
	serverCmd.Flags().String("maxmind-city-db", "", "GeoLite2/GeoIP2 City database for IP location")
	serverCmd.Flags().String("ipapi-url", "", "ip-api compatible base URL used when no MaxMind database is set")
	serverCmd.Flags().Duration("geo-timeout", 5*time.Second, "timeout of one geocoding or IP location call")
	serverCmd.Flags().String("redis-addr", "", "Redis address for the geocoding cache (empty disables it)")
	serverCmd.Flags().Duration("geo-cache-ttl", 0, "geocoding cache TTL (default 24h)")
	serverCmd.Flags().Float64("default-radius-km", 0, "proximity radius when a query sets none (default 5 km)")
	serverCmd.Flags().Int("batch-size", 0, "records per store scan batch")
	serverCmd.Flags().Bool("metrics", true, "expose Prometheus metrics at /metrics")

	// Bind flags to viper
	for key, flag := range map[string]string{
		"server.http.port":         "http-port",
		"server.grpc.port":         "grpc-port",
		"rabbitmq.url":             "rabbitmq-url",
		"rabbitmq.ipdr_queue":      "ipdr-queue",
		"rabbitmq.profile_queue":   "profile-queue",
		"geo.nominatim.url":        "nominatim-url",
		"geo.nominatim.user_agent": "nominatim-user-agent",
		"geo.maxmind.city_db":      "maxmind-city-db",
		"geo.ipapi.url":            "ipapi-url",
		"geo.timeout":              "geo-timeout",
		"geo.cache.redis_addr":     "redis-addr",
		"geo.cache.ttl":            "geo-cache-ttl",
		"query.default_radius_km":  "default-radius-km",
		"stats.batch_size":         "batch-size",
		"metrics.enabled":          "metrics",
	} {
		_ = viper.BindPFlag(key, serverCmd.Flags().Lookup(flag))
	}
}

func runServer(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting ipdr server")

	loc, err := ingestLocation()
	if err != nil {
		return err
	}

	// Create server configuration from viper
	config := &backend.ServerConfig{
		Logger:       logger,
		DB:           dbConfig(logger),
		HTTPPort:     viper.GetInt("server.http.port"),
		GRPCPort:     viper.GetInt("server.grpc.port"),
		RabbitMQURL:  viper.GetString("rabbitmq.url"),
		IPDRQueue:    viper.GetString("rabbitmq.ipdr_queue"),
		ProfileQueue: viper.GetString("rabbitmq.profile_queue"),
		Geo: backend.GeoConfig{
			NominatimURL:       viper.GetString("geo.nominatim.url"),
			NominatimUserAgent: viper.GetString("geo.nominatim.user_agent"),
			MaxMindCityDB:      viper.GetString("geo.maxmind.city_db"),
			IPAPIURL:           viper.GetString("geo.ipapi.url"),
			Timeout:            viper.GetDuration("geo.timeout"),
			RedisAddr:          viper.GetString("geo.cache.redis_addr"),
			CacheTTL:           viper.GetDuration("geo.cache.ttl"),
		},
		Location:        loc,
		DefaultRadiusKm: viper.GetFloat64("query.default_radius_km"),
		ScanBatchSize:   viper.GetInt("stats.batch_size"),
	}
	if viper.GetBool("metrics.enabled") {
		config.Metrics = metrics.NewSet(metrics.Namespace)
	}

	// Create and run server
	server, err := backend.NewServer(config)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		return err
	}

	logger.Info("server configuration",
		"db_driver", config.DB.Driver,
		"db_host", config.DB.Host,
		"db_name", config.DB.DBName,
		"http_port", config.HTTPPort,
		"grpc_port", config.GRPCPort,
		"rabbitmq_enabled", config.RabbitMQURL != "",
		"ipdr_queue", config.IPDRQueue,
		"profile_queue", config.ProfileQueue,
		"timezone", loc.String(),
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}
