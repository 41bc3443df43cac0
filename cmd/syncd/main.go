package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"pocketplan/internal/config"
	"pocketplan/internal/connectivity"
	"pocketplan/internal/database"
	"pocketplan/internal/events"
	"pocketplan/internal/logging"
	"pocketplan/internal/metrics"
	"pocketplan/internal/remote"
	"pocketplan/internal/syncer"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Msg("Ошибка создания директории для базы данных")
		return err
	}

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Ошибка инициализации базы данных")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	metrics.Register()
	if cfg.Monitoring.PrometheusEnabled {
		startMetricsServer(cfg.Monitoring.PrometheusPort, logger)
	}

	eventBus := events.NewEventBus()
	client := remote.NewClient(cfg.Remote, nil, logger)

	retryPolicy := syncer.RetryPolicy{
		MaxRetries:    cfg.Sync.MaxRetries,
		InitialDelay:  time.Duration(cfg.Sync.InitialDelaySeconds) * time.Second,
		MaxDelay:      time.Duration(cfg.Sync.MaxDelaySeconds) * time.Second,
		BackoffFactor: cfg.Sync.BackoffFactor,
	}
	deadLetter := syncer.NewDeadLetter(redisClient, logger)
	engine := syncer.NewEngine(db, client, eventBus, retryPolicy, deadLetter, syncer.Options{
		FlushFanOut:    cfg.Sync.FlushFanOut,
		FlushBatchSize: cfg.Sync.FlushBatchSize,
	}, logger)

	monitor, err := initMonitor(cfg, eventBus, logger)
	if err != nil {
		return err
	}

	// Переход в онлайн сразу запускает цикл синхронизации
	subscribeConnectivity(ctx, eventBus, engine, logger)

	go monitor.Start(ctx)

	logger.Info().
		Str("database", cfg.Database.Path).
		Str("remote", cfg.Remote.BaseURL).
		Msg("syncd запущен")

	runSyncLoop(ctx, cfg, monitor, engine, logger)

	logger.Info().Msg("Shutdown complete.")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := logging.Component(baseLogger, "syncd")
	return cfg, logger, closer, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	if !cfg.Redis.Enabled || cfg.Redis.Address == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable, dead-letter mirror disabled")
		_ = client.Close()
		return nil
	}
	return client
}

func initMonitor(cfg *config.Config, bus *events.EventBus, logger zerolog.Logger) (*connectivity.Monitor, error) {
	probeAddr := cfg.Connectivity.ProbeAddress
	if probeAddr == "" {
		addr, err := connectivity.ProbeAddrFromURL(cfg.Remote.BaseURL)
		if err != nil {
			logger.Error().Err(err).Msg("Некорректный адрес для проверки сети")
			return nil, err
		}
		probeAddr = addr
	}

	probe := connectivity.DialProbe(probeAddr, 3*time.Second)
	interval := time.Duration(cfg.Connectivity.IntervalSeconds) * time.Second
	stable := time.Duration(cfg.Connectivity.StableSeconds) * time.Second
	return connectivity.NewMonitor(probe, bus, interval, stable, logger), nil
}

// subscribeConnectivity triggers a sync cycle whenever the link comes
// back. The engine collapses concurrent triggers into one cycle.
func subscribeConnectivity(ctx context.Context, bus *events.EventBus, engine *syncer.Engine, logger zerolog.Logger) {
	bus.Subscribe(events.EventConnectivityChanged, func(ev *events.Event) error {
		var payload events.ConnectivityPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			logger.Error().Err(err).Str("event", ev.Type).Msg("event bus: decode payload")
			return nil
		}
		if payload.To != string(connectivity.StateOnline) {
			return nil
		}
		go func() {
			if _, err := engine.SyncAll(ctx); err != nil {
				logger.Error().Err(err).Msg("reconnect sync failed")
			}
		}()
		return nil
	})
}

// runSyncLoop schedules periodic cycles while online and blocks until
// shutdown.
func runSyncLoop(ctx context.Context, cfg *config.Config, monitor *connectivity.Monitor, engine *syncer.Engine, logger zerolog.Logger) {
	interval := time.Duration(cfg.Sync.IntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !monitor.Online() {
				logger.Debug().Msg("offline, skipping scheduled sync")
				continue
			}
			if _, err := engine.SyncAll(ctx); err != nil {
				logger.Error().Err(err).Msg("scheduled sync failed")
			}
		}
	}
}

func startMetricsServer(port int, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
}
