package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/internal/handlers"
	"github.com/Ramsey-B/fern/internal/poller"
	"github.com/Ramsey-B/fern/internal/repositories"
	"github.com/Ramsey-B/fern/internal/server"
	"github.com/Ramsey-B/fern/internal/services/importer"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/health"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
)

const shutdownTimeout = 30 * time.Second

var version = "dev"

func newServeCommand(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the import API and, when enabled, the background poller",
		RunE: func(c *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *envFile)
		},
	}
}

func serve(ctx context.Context, envFile string) error {
	a, err := bootstrap(ctx, envFile, false)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, logger := a.cfg, a.logger

	shutdownTracing, err := tracing.Setup(ctx, tracing.ProviderConfig{
		ServiceName: cfg.AppName,
		Enabled:     cfg.OTLPEnabled,
		OTLP: exporters.OTLPConfig{
			Endpoint: cfg.OTLPEndpoint,
			Protocol: cfg.OTLPProtocol,
			Insecure: cfg.OTLPInsecure,
		},
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.WithError(err).Warn("Failed to flush traces")
		}
	}()

	policy, err := newPolicy(cfg)
	if err != nil {
		return errors.Wrap(err, "loading batch policy")
	}

	st := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	st.AddDependency(startup.Func{
		Name: "database",
		OnStart: func(ctx context.Context) error {
			db, err := database.Connect(ctx, connectionConfig(cfg), logger)
			if err != nil {
				return err
			}
			a.db = db
			return nil
		},
	})

	var redisClient *redis.Client
	if cfg.RedisHost != "" {
		st.AddDependency(startup.Func{
			Name: "redis",
			OnStart: func(ctx context.Context) error {
				client, err := redis.NewClient(ctx, redis.Config{
					Host:     cfg.RedisHost,
					Port:     cfg.RedisPort,
					Password: cfg.RedisPassword,
					DB:       cfg.RedisDB,
				}, logger)
				if err != nil {
					return err
				}
				redisClient = client
				return nil
			},
			OnStop: func(context.Context) error {
				return redisClient.Close()
			},
		})
	}

	// Connections first; the service and everything on top of it needs a live handle.
	if err := st.Start(ctx); err != nil {
		return err
	}

	emitter, producer := newEmitter(cfg, logger)
	a.producer = producer
	service := importer.NewService(logger, repositories.NewStore(a.db, logger), policy, emitter)

	checker := health.NewChecker(version).Add("database", health.PingFunc(a.db.PingContext))
	if redisClient != nil {
		checker.Add("redis", redisClient)
	}

	if cfg.PollerEnabled {
		var locker poller.Locker
		if redisClient != nil {
			locker = redis.NewLocker(redisClient, "")
		}
		hostname, _ := os.Hostname()
		st.AddDependency(poller.NewPoller(service, locker, poller.Config{
			PollInterval:   cfg.PollerInterval,
			LockTTL:        cfg.PollerLockTTL,
			StaleAfter:     cfg.PollerStaleAfter,
			BatchesPerTick: cfg.PollerBatchesPerTick,
			AutoFinalize:   cfg.PollerAutoFinalize,
			WorkerID:       hostname,
		}, logger))
	}

	router := server.NewRouter(cfg.AppName, logger, handlers.NewImportHandler(service, cfg.PackageDir, logger), checker)
	st.AddDependency(server.New(server.Config{
		AppName:           cfg.AppName,
		Port:              cfg.Port,
		ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}, router, logger))

	if err := st.Start(ctx); err != nil {
		_ = st.Stop(context.Background())
		return err
	}
	checker.SetReady(true)
	logger.Infof("%s %s started", cfg.AppName, version)

	<-ctx.Done()
	logger.Info("Shutting down")
	checker.SetReady(false)

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return st.Stop(stopCtx)
}
