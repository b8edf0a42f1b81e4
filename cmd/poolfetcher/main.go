package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/defistate/defistate-balancer-go/chains/ethereum"
	"github.com/defistate/defistate-balancer-go/cmd/poolfetcher/config"
	"github.com/defistate/defistate-balancer-go/protocols/balancer"
	"github.com/defistate/defistate-balancer-go/storage/redisstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	close := func() {
		os.Exit(1)
	}

	cfg, err := loadConfig()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("Failed to load configuration", "error", err)
		close()
	}

	// create the log handler
	var level slog.Level
	_ = level.UnmarshalText([]byte(cfg.LogLevel))
	rootLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	prometheusRegistry := prometheus.NewRegistry()
	prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Create a context that cancels when the OS sends an interrupt (Ctrl+C) or termination signal.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.HandlerFor(prometheusRegistry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rootLogger.Error("Metrics server failed", "addr", cfg.MetricsAddr, "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	opts := []ethereum.Option{
		ethereum.WithCacheConfig(cfg.Cache),
		ethereum.WithMaxBlockRange(cfg.Registry.MaxBlockRange),
		ethereum.WithMaxConcurrentFetches(cfg.Registry.MaxConcurrentFetches),
		ethereum.WithMaintenancePolicy(cfg.Policy()),
		ethereum.WithNodeConfig(ethereum.NodeConfig{
			RequestsPerSecond: cfg.RPC.RequestsPerSecond,
			Burst:             cfg.RPC.Burst,
			Timeout:           cfg.RPC.Timeout,
		}),
	}
	if cfg.ChainID != 0 {
		deployment, err := balancer.DeploymentFor(cfg.ChainID)
		if err != nil {
			rootLogger.Error("Unknown chain", "chain_id", cfg.ChainID, "error", err)
			close()
		}
		opts = append(opts, ethereum.WithDeployment(deployment))
	}
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			rootLogger.Error("Failed to reach redis", "addr", cfg.Redis.Addr, "error", err)
			close()
		}
		store, err := redisstore.NewSnapshotStore(redisClient, cfg.Redis.SnapshotKey)
		if err != nil {
			rootLogger.Error("Failed to create snapshot store", "error", err)
			close()
		}
		opts = append(opts, ethereum.WithSnapshotStore(store, cfg.Redis.SnapshotEvery))
	}

	client, err := ethereum.Dial(
		ctx,
		cfg.NodeURL,
		rootLogger.With("component", "balancer-client"),
		prometheusRegistry,
		opts...,
	)
	if err != nil {
		rootLogger.Error("Failed to initialize Client", "chain_id", cfg.ChainID, "error", err)
		close()
	}

	for {
		select {
		case block, ok := <-client.Maintained():
			if !ok {
				return
			}
			rootLogger.Debug("Pools maintained", "block", block, "head", client.CurrentBlock())
		case err, ok := <-client.Err():
			if ok {
				rootLogger.Error("Fatal client error", "error", err)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

func loadConfig() (*config.PoolFetcherConfig, error) {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file.")
	flag.Parse()
	log.Printf("Loading configuration from: %s", *configPath)
	return config.LoadConfig(*configPath)
}
