package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/shardbuild"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	a := flag.String("a", "", "first blob, or a comma separated list")
	b := flag.String("b", "", "second blob, or a comma separated list matching -a")
	out := flag.String("out", "", "output blob, or a comma separated list matching -a")
	mergeType := flag.String("type", "", "merge reducer: concat or freq (default from config)")
	consume := flag.Bool("consume", false, "run the kafka-driven merge worker")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *consume {
		if err := runWorker(ctx, cfg); err != nil {
			slog.Error("merge worker failed", "error", err)
			os.Exit(1)
		}
		return
	}

	jobs, err := fileJobs(*a, *b, *out, *mergeType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		flag.Usage()
		os.Exit(2)
	}
	merger := shardbuild.NewMerger(cfg.Build, nil, nil, nil)
	if err := merger.MergeFiles(ctx, jobs); err != nil {
		slog.Error("merge failed", "error", err)
		os.Exit(1)
	}
	slog.Info("merge complete", "jobs", len(jobs))
}

func fileJobs(a, b, out, mergeType string) ([]shardbuild.FileJob, error) {
	if a == "" || b == "" || out == "" {
		return nil, fmt.Errorf("-a, -b and -out are required unless -consume is set")
	}
	as, bs, outs := strings.Split(a, ","), strings.Split(b, ","), strings.Split(out, ",")
	if len(as) != len(bs) || len(as) != len(outs) {
		return nil, fmt.Errorf("-a, -b and -out must list the same number of files")
	}
	jobs := make([]shardbuild.FileJob, len(as))
	for i := range as {
		jobs[i] = shardbuild.FileJob{A: as[i], B: bs[i], Out: outs[i], MergeType: mergeType}
	}
	return jobs, nil
}

func runWorker(ctx context.Context, cfg *config.Config) error {
	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connecting to manifest database: %w", err)
	}
	defer db.Close()
	manifest := shardbuild.NewPostgresManifest(db)
	if err := manifest.EnsureSchema(ctx); err != nil {
		return err
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ShardMerged)
	defer producer.Close()

	merger := shardbuild.NewMerger(cfg.Build, manifest, producer, m)
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.ShardPacked, resilience.RetryConfig{
		MaxAttempts:  cfg.Build.MaxAttempts,
		InitialDelay: cfg.Build.RetryDelay,
	}, merger.Handler())

	slog.Info("merge worker ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.ShardPacked,
		"group", cfg.Kafka.ConsumerGroup,
		"output_dir", cfg.Build.OutputDir,
	)
	if err := consumer.Start(ctx); err != nil {
		return err
	}
	slog.Info("merge worker stopped")
	return nil
}
