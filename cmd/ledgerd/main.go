// Command ledgerd serves the ledger HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bank-ledger/pkg/api"
	"bank-ledger/pkg/cache"
	"bank-ledger/pkg/cache/bloom"
	"bank-ledger/pkg/cache/memory"
	"bank-ledger/pkg/cache/redis"
	"bank-ledger/pkg/chain"
	"bank-ledger/pkg/ledger"
	ledgermem "bank-ledger/pkg/ledger/memory"
	"bank-ledger/pkg/ledger/postgres"
	"bank-ledger/pkg/logging"
	promcollector "bank-ledger/pkg/metrics/prometheus"
	"bank-ledger/pkg/resilience"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	logger, err := logging.NewLoggerFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	if err := run(logger); err != nil {
		logger.Fatal("ledgerd failed", zap.Error(err))
	}
}

func run(logger *logging.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mc := promcollector.NewPrometheusCollector("ledger")
	if err := mc.Register(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	ctx := context.Background()
	store, ping, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("store ready", zap.String("store", cfg.Store))

	index, err := openIndex(cfg, mc, logger)
	if err != nil {
		return err
	}
	defer index.Close()
	logger.Info("number index ready", zap.String("layers", index.String()))

	numbers, err := store.AccountNumbers(ctx)
	if err != nil {
		return fmt.Errorf("load account numbers: %w", err)
	}
	filter := bloom.NewFilter(uint(len(numbers))+100000, 0.01)
	filter.Preload(numbers)

	guard := resilience.NewGuard("store", resilience.DefaultGuardConfig(), mc)

	svc, err := ledger.NewService(store, ledger.Options{
		Config:  cfg.Ledger,
		Metrics: mc,
		Logger:  logger,
		Guard:   guard,
		Index:   ledger.NewCachedIndex(index, cfg.Ledger.IndexTTL),
		Filter:  filter,
	})
	if err != nil {
		return err
	}

	serverCfg := api.DefaultServerConfig()
	serverCfg.Address = ":" + cfg.Port
	server := api.NewServer(svc, serverCfg, api.Options{
		Logger:   logger,
		Registry: reg,
		Ready: func(ctx context.Context) error {
			if !guard.Healthy() {
				return resilience.ErrStoreUnavailable
			}
			return ping(ctx)
		},
	})
	if err := server.Start(); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	return nil
}

func openStore(ctx context.Context, cfg config) (ledger.Store, func(context.Context) error, error) {
	if cfg.Store == storePostgres {
		s, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return s, s.Ping, nil
	}
	return ledgermem.New(), func(context.Context) error { return nil }, nil
}

// openIndex stacks the in-process layer over Redis when one is configured.
// An unreachable Redis is logged and skipped.
func openIndex(cfg config, mc *promcollector.PrometheusCollector, logger *logging.Logger) (*chain.Chain, error) {
	layers := []cache.CacheLayer{
		memory.NewMemoryCache(memory.MemoryCacheConfig{
			Name:       "L1",
			MaxSize:    cfg.L1Size,
			DefaultTTL: cfg.Ledger.IndexTTL,
		}),
	}

	if cfg.redisEnabled() {
		password := os.Getenv("REDIS_PASSWORD")
		var rc redis.RedisCacheConfig
		switch {
		case len(cfg.RedisClusterAddrs) > 0:
			rc = redis.ClusterCacheConfig("L2", cfg.RedisClusterAddrs, password)
		case len(cfg.RedisSentinelAddrs) > 0:
			rc = redis.SentinelCacheConfig("L2", cfg.RedisSentinelAddrs, cfg.RedisMasterSet, password)
		default:
			rc = redis.DefaultRedisCacheConfig()
			rc.Name = "L2"
			rc.Addr = cfg.RedisAddr
			rc.Password = password
		}
		rc.DefaultTTL = cfg.Ledger.IndexTTL

		l2, err := redis.NewRedisCache(rc)
		switch {
		case err == nil:
			layers = append(layers, l2)
		case errors.Is(err, context.DeadlineExceeded):
			logger.Warn("redis timed out, running without L2")
		default:
			logger.Warn("redis unavailable, running without L2", zap.Error(err))
		}
	}

	return chain.New(chain.Options{
		Metrics:    mc,
		TTL:        chain.DecayingTTL{Factor: 0.5},
		DefaultTTL: cfg.Ledger.IndexTTL,
	}, layers...)
}
