package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/minio/minio-go/v7"

	"flood_etl/internal/config"
	"flood_etl/internal/domain"
	"flood_etl/internal/observability"
	"flood_etl/internal/publisher"
	"flood_etl/internal/service"
	"flood_etl/internal/sink/kafka"
	"flood_etl/internal/source/floodapi"
	"flood_etl/internal/storage/csvfile"
	"flood_etl/internal/storage/filestore"
	"flood_etl/internal/storage/objectstore"
	"flood_etl/internal/storage/sqldb"
	"flood_etl/internal/table"
	"flood_etl/internal/transform"
)

// tableStore is what both the table writer and the status view need.
type tableStore interface {
	table.Store
	service.TableReader
}

// app holds the wired pipeline and everything that must be closed with it.
type app struct {
	pipeline *service.Pipeline
	closers  []func() error
}

func (a *app) Close(logger *slog.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}
}

// buildApp connects the configured backends. withOutputs controls whether
// the optional Kafka sink and RabbitMQ publisher are attached; read-only
// commands leave them off.
func buildApp(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger, withOutputs bool) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close(logger)
		}
	}()

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	var db *sqlx.DB
	if cfg.Storage.Tables != config.BackendCSV {
		db, err = openDatabase(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		logger.Info("connected to database", "driver", db.DriverName())
	}

	var mc *minio.Client
	if cfg.Storage.Raw == config.BackendMinio || cfg.Storage.Watermark == config.BackendMinio {
		mc, err = objectstore.NewClient(ctx, objectstore.Config{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			UseSSL:    cfg.Minio.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("connected to object store", "endpoint", cfg.Minio.Endpoint, "bucket", cfg.Minio.Bucket)
	}

	var tables tableStore
	switch cfg.Storage.Tables {
	case config.BackendCSV:
		tables = csvfile.NewStore(cfg.Storage.DataDir)
	default:
		tables = sqldb.NewTableStore(db, sqldb.NewTransactionManager(db))
	}

	var raw service.RawStore
	switch cfg.Storage.Raw {
	case config.BackendMinio:
		raw = objectstore.NewRawStore(mc, cfg.Minio.Bucket)
	default:
		raw = filestore.NewRawStore(cfg.Storage.DataDir)
	}

	var watermark service.WatermarkStore
	switch cfg.Storage.Watermark {
	case config.BackendDatabase:
		watermark = sqldb.NewWatermarkStore(db, sqldb.DefaultPipelineID)
	case config.BackendMinio:
		watermark = objectstore.NewWatermarkStore(mc, cfg.Minio.Bucket)
	default:
		watermark = filestore.NewWatermarkStore(cfg.Storage.DataDir)
	}

	var opts []table.Option
	if cfg.Sync.DedupeReadings {
		opts = append(opts, table.WithDedupeKey(domain.KindReadings.Table(), "@id"))
	}
	writer := table.NewWriter(tables, metrics, logger, opts...)

	client := floodapi.NewClient(floodapi.Config{
		BaseURL:        cfg.API.BaseURL,
		Timeout:        cfg.API.Timeout,
		PageDelay:      cfg.API.Delay(),
		MaxAttempts:    cfg.API.Retry.MaxAttempts,
		InitialBackoff: cfg.API.Retry.InitialBackoff,
		MaxBackoff:     cfg.API.Retry.MaxBackoff,
	}, metrics, logger)
	extractor := floodapi.NewExtractor(client, floodapi.PageSizes{
		Stations: cfg.API.PageSizes.Stations,
		Readings: cfg.API.PageSizes.Readings,
		Floods:   cfg.API.PageSizes.Floods,
	}, logger)

	var sink service.FeatureSink
	var pub service.Publisher
	if withOutputs {
		if len(cfg.Kafka.Brokers) > 0 {
			w := kafka.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
			a.closers = append(a.closers, w.Close)
			sink = w
			logger.Info("kafka feature export enabled", "topic", cfg.Kafka.Topic)
		}
		if cfg.RabbitMQ.URL != "" {
			r, err := publisher.NewRabbitMQ(publisher.Config{
				URL:        cfg.RabbitMQ.URL,
				Exchange:   cfg.RabbitMQ.Exchange,
				RoutingKey: cfg.RabbitMQ.RoutingKey,
				QueueName:  cfg.RabbitMQ.QueueName,
			}, logger)
			if err != nil {
				return nil, err
			}
			a.closers = append(a.closers, r.Close)
			pub = r
		}
	}

	clock := clockwork.NewRealClock()
	a.pipeline = service.NewPipeline(
		extractor,
		raw,
		writer,
		tables,
		watermark,
		transform.NewNormalizer(clock),
		sink,
		pub,
		clock,
		metrics,
		logger,
		cfg.Sync,
	)
	return a, nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sqlx.DB, error) {
	if cfg.Storage.Tables == config.BackendSQLite {
		return sqldb.Open(ctx, sqldb.DriverSQLite, cfg.Database.Path)
	}
	return sqldb.Open(ctx, sqldb.DriverPostgres, cfg.Database.DSN())
}
