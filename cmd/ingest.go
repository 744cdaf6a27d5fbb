package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/ipdr/internal/ipdr"
	"procodus.dev/ipdr/internal/rowsource"
	"procodus.dev/ipdr/internal/store"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest FILE...",
	Short: "Load CSV, JSON or XLSX files into the store",
	Long: `Normalize every row of the given files and upsert the accepted ones.
Rows that fail validation are counted in the printed report and never stop
the rest of the file. A storage failure aborts the run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().String("kind", string(ipdr.KindIPDR), "row kind (ipdr, profile)")
	ingestCmd.Flags().String("format", "", "force the file format (csv, json, xlsx) instead of using the extension")

	_ = viper.BindPFlag("ingest.kind", ingestCmd.Flags().Lookup("kind"))
	_ = viper.BindPFlag("ingest.format", ingestCmd.Flags().Lookup("format"))
}

func runIngest(cmd *cobra.Command, args []string) error {
	logger := GetLogger()

	kind, ok := ipdr.ParseKind(viper.GetString("ingest.kind"))
	if !ok {
		return fmt.Errorf("unknown kind %q", viper.GetString("ingest.kind"))
	}
	loc, err := ingestLocation()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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
	pipeline, err := ipdr.NewPipeline(&ipdr.PipelineConfig{
		Store:      st,
		Normalizer: ipdr.NewNormalizer(loc),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	var errs []error
	for _, path := range args {
		report, err := ingestFile(ctx, pipeline, kind, path)
		if report.BatchID != "" {
			if encErr := enc.Encode(map[string]any{"file": path, "report": report}); encErr != nil {
				return encErr
			}
		}
		if err != nil {
			logger.Error("ingestion failed", "file", path, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			if errors.Is(err, ipdr.ErrStorageUnavailable) || ctx.Err() != nil {
				break
			}
			continue
		}
		logger.Info("file ingested",
			"file", path,
			"batch_id", report.BatchID,
			"accepted", report.Accepted,
			"rejected", report.Rejected,
		)
	}
	return errors.Join(errs...)
}

func ingestFile(ctx context.Context, pipeline *ipdr.Pipeline, kind ipdr.Kind, path string) (ipdr.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return ipdr.Report{}, err
	}
	defer f.Close()

	format := rowsource.Format(viper.GetString("ingest.format"))
	if format == "" {
		if format, err = rowsource.DetectFormat(path); err != nil {
			return ipdr.Report{}, err
		}
	}

	rows, err := rowsource.OpenFormat(format, f)
	if err != nil {
		return ipdr.Report{}, err
	}
	return pipeline.IngestFile(ctx, rows, kind)
}
