package main

import (
	"context"
	"log/slog"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/siherrmann/mailrank/core/ingest"
	"github.com/siherrmann/mailrank/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mailrank HTTP API",
	Long: `Serve runs the HTTP API with ranking, search, ingestion and extraction
endpoints. With ingest.schedule set to a cron expression the configured
source prefix is re-ingested on that schedule; ingestion is idempotent, so
unchanged documents are simply overwritten in place.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		source, err := buildSource(ctx)
		if err != nil {
			return err
		}

		httpServer, err := server.NewServer(app, source, slog.Default())
		if err != nil {
			return err
		}

		if spec := viper.GetString("ingest.schedule"); spec != "" {
			scheduler, err := scheduleIngestion(ctx, app, source, spec)
			if err != nil {
				return err
			}
			scheduler.Start()
			defer func() { <-scheduler.Stop().Done() }()
		}

		return httpServer.Run(ctx, viper.GetString("server.addr"))
	},
}

type ingestor interface {
	IngestPrefix(ctx context.Context, source ingest.DocumentSource, prefix string) (*ingest.Report, error)
}

// scheduleIngestion registers the periodic re-ingestion job. Runs
// that overlap a still-active predecessor are skipped.
func scheduleIngestion(ctx context.Context, app ingestor, source ingest.DocumentSource, spec string) (*cron.Cron, error) {
	prefix := viper.GetString("ingest.prefix")
	logger := slog.Default().With(slog.String("job", "reingest"), slog.String("spec", spec))

	var running atomic.Bool
	scheduler := cron.New()
	_, err := scheduler.AddFunc(spec, func() {
		if !running.CompareAndSwap(false, true) {
			logger.Info("Ingestion skipped, previous run still active")
			return
		}
		defer running.Store(false)

		started := time.Now()
		report, err := app.IngestPrefix(ctx, source, prefix)
		if err != nil {
			logger.Error("Ingestion failed", slog.Any("error", err))
			return
		}
		logger.Info("Ingestion finished",
			slog.Int("documents", report.Documents),
			slog.Int("chunks", report.Chunks),
			slog.Int("failures", len(report.Errors)),
			slog.Duration("duration", time.Since(started)),
		)
	})
	if err != nil {
		return nil, err
	}

	return scheduler, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
