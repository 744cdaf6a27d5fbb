package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/ipdr/internal/ipdr"
	"procodus.dev/ipdr/internal/producer"
	"procodus.dev/ipdr/pkg/generator"
	"procodus.dev/ipdr/pkg/metrics"
)

var generatorCmd = &cobra.Command{
	Use:   "generator",
	Short: "Generate mock IPDR and profile rows",
	Long: `Generate mock data for a pool of subscribers that:
- Writes IPDR or profile rows to a CSV, JSON or XLSX file (--output)
- Or publishes IPDR rows, and the profiles once, to RabbitMQ (--publish)
- Supports multiple concurrent producers when publishing`,
	Args: cobra.NoArgs,
	RunE: runGenerator,
}

func init() {
	rootCmd.AddCommand(generatorCmd)

	// Generator-specific flags
	generatorCmd.Flags().String("output", "", "file to write; the extension picks the format")
	generatorCmd.Flags().String("kind", string(ipdr.KindIPDR), "row kind written to --output (ipdr, profile)")
	generatorCmd.Flags().Int("count", 1000, "number of IPDR rows (0 publishes until interrupted)")
	generatorCmd.Flags().Int("subscribers", 20, "number of distinct phone numbers")
	generatorCmd.Flags().Uint64("seed", 0, "random seed (0 picks one)")
	generatorCmd.Flags().Int("days", 30, "spread session start times over this many past days")
	generatorCmd.Flags().Bool("publish", false, "publish to RabbitMQ instead of writing a file")
	generatorCmd.Flags().String("rabbitmq-url", "amqp://localhost:5672", "RabbitMQ URL")
	generatorCmd.Flags().String("ipdr-queue", "ipdr-rows", "RabbitMQ queue for IPDR rows")
	generatorCmd.Flags().String("profile-queue", "profile-rows", "RabbitMQ queue for profile rows (empty skips profiles)")
	generatorCmd.Flags().Int("producer-count", 2, "number of concurrent producers")
	generatorCmd.Flags().Duration("interval", 100*time.Millisecond, "interval between rows of one producer")
	generatorCmd.Flags().String("metrics-addr", "", "address serving /metrics while publishing (empty disables)")

	// Bind flags to viper
	for key, flag := range map[string]string{
		"generator.output":         "output",
		"generator.kind":           "kind",
		"generator.count":          "count",
		"generator.subscribers":    "subscribers",
		"generator.seed":           "seed",
		"generator.days":           "days",
		"generator.publish":        "publish",
		"generator.rabbitmq.url":   "rabbitmq-url",
		"generator.ipdr_queue":     "ipdr-queue",
		"generator.profile_queue":  "profile-queue",
		"generator.producer_count": "producer-count",
		"generator.interval":       "interval",
		"generator.metrics_addr":   "metrics-addr",
	} {
		_ = viper.BindPFlag(key, generatorCmd.Flags().Lookup(flag))
	}
}

func runGenerator(_ *cobra.Command, _ []string) error {
	logger := GetLogger()

	to := time.Now().UTC()
	gen, err := generator.New(generator.Config{
		Seed:        viper.GetUint64("generator.seed"),
		Subscribers: viper.GetInt("generator.subscribers"),
		From:        to.AddDate(0, 0, -max(1, viper.GetInt("generator.days"))),
		To:          to,
	})
	if err != nil {
		return err
	}

	if !viper.GetBool("generator.publish") {
		return writeRows(gen, viper.GetString("generator.output"), viper.GetString("generator.kind"), viper.GetInt("generator.count"))
	}

	// Create producer configuration from viper
	config := &producer.ServerConfig{
		Logger:        logger,
		Generator:     gen,
		RabbitMQURL:   viper.GetString("generator.rabbitmq.url"),
		IPDRQueue:     viper.GetString("generator.ipdr_queue"),
		ProfileQueue:  viper.GetString("generator.profile_queue"),
		ProducerCount: viper.GetInt("generator.producer_count"),
		Interval:      viper.GetDuration("generator.interval"),
		Total:         viper.GetInt("generator.count"),
	}

	if addr := viper.GetString("generator.metrics_addr"); addr != "" {
		config.Metrics = metrics.NewGeneratorMetrics(metrics.Namespace)
		config.MQMetrics = metrics.NewMQMetrics(metrics.Namespace)
		go serveMetrics(logger, addr)
	}

	server, err := producer.NewServer(config)
	if err != nil {
		logger.Error("failed to create generator server", "error", err)
		return err
	}

	logger.Info("generator server configuration",
		"ipdr_queue", config.IPDRQueue,
		"profile_queue", config.ProfileQueue,
		"producer_count", config.ProducerCount,
		"interval", config.Interval,
		"total", config.Total,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("generator server error", "error", err)
		return err
	}

	logger.Info("generator server stopped", "published", server.Published())
	return nil
}

func serveMetrics(logger *slog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	logger.Info("serving generator metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "error", err)
	}
}

func writeRows(gen *generator.Generator, path, kindName string, count int) (err error) {
	if path == "" {
		return errors.New("--output is required unless --publish is set")
	}
	format, err := generator.FormatFor(path)
	if err != nil {
		return err
	}

	kind, ok := ipdr.ParseKind(kindName)
	if !ok {
		return fmt.Errorf("unknown kind %q", kindName)
	}

	var (
		rows    []map[string]any
		columns []string
	)
	switch kind {
	case ipdr.KindProfile:
		rows, columns = gen.Profiles(), generator.ProfileColumns
	default:
		rows, columns = make([]map[string]any, 0, count), generator.IPDRColumns
		for range count {
			rows = append(rows, gen.IPDR())
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	if err := generator.Write(f, format, columns, rows); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	GetLogger().Info("rows written", "file", path, "kind", kind, "rows", len(rows))
	return nil
}
