// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/absmach/fanout/codec"
	"github.com/absmach/fanout/config"
	"github.com/absmach/fanout/fanout"
	"github.com/absmach/fanout/kv"
	kvbadger "github.com/absmach/fanout/kv/badger"
	kvetcd "github.com/absmach/fanout/kv/etcd"
	kvmemory "github.com/absmach/fanout/kv/memory"
	fanouttls "github.com/absmach/fanout/pkg/tls"
	"github.com/absmach/fanout/queue"
	"github.com/absmach/fanout/queue/storage"
	qbadger "github.com/absmach/fanout/queue/storage/badger"
	qmemory "github.com/absmach/fanout/queue/storage/memory"
	"github.com/absmach/fanout/queue/types"
	"github.com/absmach/fanout/ratelimit"
	"github.com/absmach/fanout/server/health"
	"github.com/absmach/fanout/server/http"
	"github.com/absmach/fanout/server/otel"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	instanceID := instanceID()
	slog.Info("Starting fanout daemon", "version", "0.1.0", "instance_id", instanceID)
	slog.Info("Configuration loaded",
		"http_addr", cfg.Server.HTTPAddr,
		"health_addr", cfg.Server.HealthAddr,
		"store", cfg.Store.Type,
		"queue_storage", cfg.Queue.Storage,
		"codec", cfg.Fanout.Codec,
		"compression", cfg.Fanout.Compression,
		"log_level", cfg.Log.Level)

	store, err := openStore(cfg.Store, logger)
	if err != nil {
		slog.Error("Failed to open shared store", "type", cfg.Store.Type, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	queueStore, err := openQueueStore(cfg.Queue)
	if err != nil {
		slog.Error("Failed to open queue storage", "type", cfg.Queue.Storage, "error", err)
		os.Exit(1)
	}
	defer queueStore.Close()

	queues, err := queue.NewManager(queue.Config{
		Store: queueStore,
		Defaults: types.QueueConfig{
			MaxSize:        cfg.Queue.MaxSize,
			MaxMessageSize: cfg.Queue.MaxMessageSize,
			MessageTTL:     cfg.Queue.MessageTTL,
		},
		AutoCreate: cfg.Queue.AutoCreate,
		Logger:     logger,
	})
	if err != nil {
		slog.Error("Failed to create queue manager", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	retention := queue.NewRetentionManager(queues, cfg.Queue.SweepInterval, logger)
	retention.Start(ctx)
	defer retention.Stop()

	var queueClient queue.Client = queues
	if cfg.Queue.CircuitBreaker.Enabled {
		queueClient = queue.NewBreakerClient(queues, queue.BreakerConfig{
			FailureThreshold: cfg.Queue.CircuitBreaker.FailureThreshold,
			ResetTimeout:     cfg.Queue.CircuitBreaker.ResetTimeout,
		}, logger)
		slog.Info("Queue circuit breakers enabled",
			"failure_threshold", cfg.Queue.CircuitBreaker.FailureThreshold,
			"reset_timeout", cfg.Queue.CircuitBreaker.ResetTimeout)
	}

	var otelShutdown func(context.Context) error
	var metrics *otel.Metrics
	var tracer trace.Tracer

	if cfg.Server.MetricsEnabled {
		shutdown, err := otel.InitProvider(context.Background(), cfg.Server, instanceID)
		if err != nil {
			slog.Error("Failed to initialize OpenTelemetry", "error", err)
			os.Exit(1)
		}
		otelShutdown = shutdown
		slog.Info("OpenTelemetry initialized", "endpoint", cfg.Server.MetricsAddr)

		if cfg.Server.OtelMetricsEnabled {
			m, err := otel.NewMetrics()
			if err != nil {
				slog.Error("Failed to create metrics", "error", err)
				os.Exit(1)
			}
			metrics = m
		}
		if cfg.Server.OtelTracesEnabled {
			tracer = otel.Tracer()
			slog.Info("Distributed tracing enabled", "sample_rate", cfg.Server.OtelTraceSampleRate)
		}
	} else {
		slog.Info("OpenTelemetry disabled")
	}

	msgCodec, err := newCodec(cfg.Fanout)
	if err != nil {
		slog.Error("Failed to create codec", "error", err)
		os.Exit(1)
	}

	fanouts, err := fanout.NewManager(fanout.Config[any]{
		Store:            store,
		Queues:           queueClient,
		Codec:            msgCodec,
		Logger:           logger,
		Metrics:          metrics,
		Tracer:           tracer,
		DedupInterval:    cfg.Fanout.DedupInterval,
		AdmissionTimeout: cfg.Fanout.AdmissionTimeout,
		ConflictRetries:  cfg.Fanout.ConflictRetries,
		DedupCacheSize:   cfg.Fanout.DedupCacheSize,
		FilterCacheSize:  cfg.Fanout.FilterCacheSize,
		HandleCacheSize:  cfg.Fanout.HandleCacheSize,
		MaxConcurrency:   cfg.Fanout.MaxConcurrency,
	})
	if err != nil {
		slog.Error("Failed to create fanout manager", "error", err)
		os.Exit(1)
	}

	limits := ratelimit.NewManager(ratelimit.Config{
		Enabled:         cfg.RateLimit.Enabled,
		Rate:            cfg.RateLimit.Rate,
		Burst:           cfg.RateLimit.Burst,
		CleanupInterval: cfg.RateLimit.CleanupInterval,
	})
	defer limits.Stop()

	var wg sync.WaitGroup
	serverErr := make(chan error, 2)

	if cfg.Server.HTTPEnabled {
		httpCfg := http.Config{
			Address:         cfg.Server.HTTPAddr,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}
		tlsCfg, err := fanouttls.Load(&fanouttls.Config{
			CertFile:     cfg.Server.TLSCertFile,
			KeyFile:      cfg.Server.TLSKeyFile,
			ClientCAFile: cfg.Server.TLSClientCAFile,
		})
		if err != nil {
			slog.Error("Failed to load TLS configuration", "error", err)
			os.Exit(1)
		}
		httpCfg.TLSConfig = tlsCfg
		slog.Info("HTTP API security", "status", fanouttls.SecurityStatus(tlsCfg))
		apiServer := http.New(httpCfg, fanouts, queues, limits, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Listen(ctx); err != nil {
				serverErr <- err
			}
		}()
	}

	if cfg.Server.HealthEnabled {
		healthServer := health.New(health.Config{
			Address:         cfg.Server.HealthAddr,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, map[string]health.Check{
			"store": health.StoreCheck(store),
		}, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := healthServer.Listen(ctx); err != nil {
				serverErr <- err
			}
		}()
	}

	slog.Info("Fanout daemon started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server error", "error", err)
	}

	cancel()
	wg.Wait()

	if otelShutdown != nil {
		otelShutdownCtx, otelCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer otelCancel()
		if err := otelShutdown(otelShutdownCtx); err != nil {
			slog.Error("Failed to shutdown OpenTelemetry", "error", err)
		} else {
			slog.Info("OpenTelemetry shutdown complete")
		}
	}

	slog.Info("Fanout daemon stopped")
}

func instanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host + "-" + uuid.NewString()[:8]
	}
	return uuid.NewString()
}

func openStore(cfg config.StoreConfig, logger *slog.Logger) (kv.Store, error) {
	switch cfg.Type {
	case config.StoreMemory:
		slog.Info("Using in-memory shared store")
		return kvmemory.New(), nil
	case config.StoreBadger:
		slog.Info("Using BadgerDB shared store", "dir", cfg.BadgerDir)
		return kvbadger.New(kvbadger.Config{Dir: cfg.BadgerDir})
	case config.StoreEtcd:
		if cfg.Etcd.Embedded {
			slog.Info("Starting embedded etcd",
				"name", cfg.Etcd.Name,
				"data_dir", cfg.Etcd.DataDir,
				"bind", cfg.Etcd.BindAddr)
			return kvetcd.StartEmbedded(kvetcd.EmbeddedConfig{
				Name:           cfg.Etcd.Name,
				DataDir:        cfg.Etcd.DataDir,
				BindAddr:       cfg.Etcd.BindAddr,
				ClientAddr:     cfg.Etcd.ClientAddr,
				AdvertiseAddr:  cfg.Etcd.BindAddr,
				InitialCluster: cfg.Etcd.InitialCluster,
				Bootstrap:      cfg.Etcd.Bootstrap,
				Prefix:         cfg.Etcd.Prefix,
			}, logger)
		}
		slog.Info("Connecting to etcd", "endpoints", cfg.Etcd.Endpoints)
		return kvetcd.Dial(kvetcd.ClientConfig{
			Endpoints:   cfg.Etcd.Endpoints,
			DialTimeout: cfg.Etcd.DialTimeout,
			Prefix:      cfg.Etcd.Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

func openQueueStore(cfg config.QueueConfig) (storage.Store, error) {
	switch cfg.Storage {
	case config.StoreMemory:
		return qmemory.New(), nil
	case config.StoreBadger:
		slog.Info("Using BadgerDB queue storage", "dir", cfg.BadgerDir)
		return qbadger.Open(cfg.BadgerDir)
	default:
		return nil, fmt.Errorf("unknown queue storage %q", cfg.Storage)
	}
}

func newCodec(cfg config.FanoutConfig) (codec.Codec, error) {
	c, err := codec.New(cfg.Codec)
	if err != nil {
		return nil, err
	}
	if cfg.Compression == "zstd" {
		return codec.NewCompressed(c, cfg.CompressionThreshold)
	}
	return c, nil
}
