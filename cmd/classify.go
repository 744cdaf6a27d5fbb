package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/ipdr/internal/classifier"
	"procodus.dev/ipdr/internal/ipdr"
	"procodus.dev/ipdr/internal/store"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Label records with the suspicion classifier",
	Long: `Send the session features of the stored records to the classifier's
POST /predict endpoint and persist the returned labels as is_suspicious.
Nothing is written unless every batch was labelled.`,
	Args: cobra.NoArgs,
	RunE: runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)

	classifyCmd.Flags().String("classifier-url", "http://localhost:5000", "classifier base URL")
	classifyCmd.Flags().Duration("classifier-timeout", 30*time.Second, "timeout of one /predict call")
	classifyCmd.Flags().Int("batch-size", ipdr.DefaultScanBatchSize, "records per classifier call")
	classifyCmd.Flags().String("phone", "", "only classify the records of this phone number")

	_ = viper.BindPFlag("classifier.url", classifyCmd.Flags().Lookup("classifier-url"))
	_ = viper.BindPFlag("classifier.timeout", classifyCmd.Flags().Lookup("classifier-timeout"))
	_ = viper.BindPFlag("classifier.batch_size", classifyCmd.Flags().Lookup("batch-size"))
	_ = viper.BindPFlag("classifier.phone", classifyCmd.Flags().Lookup("phone"))
}

func runClassify(cmd *cobra.Command, _ []string) error {
	logger := GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := classifier.New(classifier.Config{
		BaseURL: viper.GetString("classifier.url"),
		Timeout: viper.GetDuration("classifier.timeout"),
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create classifier client: %w", err)
	}

	db, err := store.NewDB(dbConfig(logger))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if err := store.CloseDB(db, logger); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	st, err := store.NewGormStore(db, logger, nil)
	if err != nil {
		return err
	}

	syncer, err := ipdr.NewSuspicionSync(st, client, logger, viper.GetInt("classifier.batch_size"))
	if err != nil {
		return err
	}

	report, err := syncer.Run(ctx, ipdr.RecordFilter{PhoneNumber: viper.GetString("classifier.phone")})
	if err != nil {
		return fmt.Errorf("classification failed: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
