package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/api"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/coalesce"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/phraserelev"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/resultcache"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/internal/shardbuild"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/shard"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	follow := flag.Bool("follow", false, "consume shard merged events and swap updated shards in")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting geocoder",
		"port", cfg.Server.Port,
		"backend", cfg.Cache.Backend,
		"shard_count", cfg.Cache.ShardCount,
	)

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	caches, err := catalog.Open(cfg.Cache, m)
	if err != nil {
		slog.Error("failed to load caches", "error", err)
		os.Exit(1)
	}
	defer caches.Close()
	slog.Info("caches loaded", "names", caches.Names())

	shardFn := shard.Farmhash(cfg.Cache.ShardCount)
	engine := coalesce.New(cfg.Coalesce, shardFn, m)
	scorer := phraserelev.New(cfg.PhraseRelev, shardFn, m)

	var (
		results     *resultcache.Cache
		redisClient *pkgredis.Client
	)
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, result caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			results = resultcache.New(redisClient, cfg.Redis, m)
			slog.Info("result cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *follow {
		// Every instance needs every merged shard, so each gets its own group.
		host, _ := os.Hostname()
		kcfg := cfg.Kafka
		kcfg.ConsumerGroup = fmt.Sprintf("%s-%s", cfg.Kafka.ConsumerGroup, host)
		var inv shardbuild.Invalidator
		if results != nil {
			inv = results
		}
		consumer := kafka.NewConsumer(kcfg, cfg.Kafka.Topics.ShardMerged, resilience.RetryConfig{
			MaxAttempts:  cfg.Build.MaxAttempts,
			InitialDelay: cfg.Build.RetryDelay,
		}, shardbuild.HandleMerged(caches, inv))
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("shard merged consumer error", "error", err)
			}
		}()
		slog.Info("following shard updates", "topic", cfg.Kafka.Topics.ShardMerged, "group", kcfg.ConsumerGroup)
	}

	checker := health.NewChecker()
	checker.Register("caches", func(ctx context.Context) health.ComponentHealth {
		if n := caches.Len(); n > 0 {
			return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d caches loaded", n)}
		}
		return health.ComponentHealth{Status: health.StatusDown, Message: "no caches configured"}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if state := results.BreakerState(); state != resilience.StateClosed {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "circuit " + state.String()}
		}
		return health.PingCheck(redisClient.Ping, health.StatusDegraded)(ctx)
	})

	h := api.New(caches, engine, scorer, results)
	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.CORS(middleware.DefaultCORSConfig())(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("geocoder listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("geocoder stopped")
}
