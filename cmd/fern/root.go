package main

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/repositories"
	"github.com/Ramsey-B/fern/internal/services/importer"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/planner"
)

func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var envFile string

	rc := &cobra.Command{
		Use:   "fern",
		Short: "Fern imports KBO registry packages into temporal tables.",
		Long: `Fern imports KBO registry packages into temporal tables.

A package is prepared once (staged and planned into batches), processed one
batch at a time by any number of workers and finalized when every batch has
completed. The serve command exposes the same operations over HTTP and can
drive pending jobs with a background poller.
`,
		SilenceUsage: true,
	}
	rc.SetIn(stdin)
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	rc.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file read before the environment")

	rc.AddCommand(newServeCommand(&envFile))
	rc.AddCommand(newMigrateCommand(&envFile))
	rc.AddCommand(newPrepareCommand(&envFile, stdout))
	rc.AddCommand(newProcessCommand(&envFile, stdout))
	rc.AddCommand(newProgressCommand(&envFile, stdout))
	rc.AddCommand(newFinalizeCommand(&envFile, stdout))
	rc.AddCommand(newRetryCommand(&envFile, stdout))
	rc.AddCommand(newRunCommand(&envFile, stdout))
	return rc
}

// app holds what every command needs once configuration is loaded.
type app struct {
	cfg      *config.Config
	logger   ectologger.Logger
	db       database.DB
	producer *kafka.Producer
	service  *importer.Service
}

func newLogger(cfg *config.Config) (ectologger.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", cfg.LogLevel)
	}
	zcfg.Level = level

	zapLogger, err := zcfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "building logger")
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), nil
}

func newPolicy(cfg *config.Config) (planner.Policy, error) {
	if cfg.BatchSizesFile != "" {
		return planner.LoadPolicy(cfg.BatchSizesFile, cfg.BatchDefaultSize, cfg.BatchSmallFileThreshold)
	}
	return planner.NewPolicy(planner.DefaultSizes(), cfg.BatchDefaultSize, cfg.BatchSmallFileThreshold)
}

func connectionConfig(cfg *config.Config) database.ConnectionConfig {
	return database.ConnectionConfig{
		Driver:          cfg.DatabaseDriver,
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		User:            cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}
}

// newEmitter publishes to Kafka when brokers are configured and drops events otherwise.
func newEmitter(cfg *config.Config, logger ectologger.Logger) (*events.Emitter, *kafka.Producer) {
	brokers := cfg.Brokers()
	if len(brokers) == 0 {
		return events.NewEmitter(nil, logger), nil
	}
	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      brokers,
		Topic:        cfg.KafkaTopic,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: -1, // all in-sync replicas
		Compression:  cfg.KafkaCompression,
	}, logger)
	return events.NewEmitter(producer, logger), producer
}

// bootstrap loads configuration and connects to the database. Commands that only need a
// logger pass connect=false.
func bootstrap(ctx context.Context, envFile string, connect bool) (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	if !connect {
		return a, nil
	}

	policy, err := newPolicy(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "loading batch policy")
	}

	a.db, err = database.Connect(ctx, connectionConfig(cfg), logger)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to database")
	}

	emitter, producer := newEmitter(cfg, logger)
	a.producer = producer
	a.service = importer.NewService(logger, repositories.NewStore(a.db, logger), policy, emitter)
	return a, nil
}

func (a *app) Close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close kafka producer")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close database")
		}
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
