// Package bootstrap wires the worker's dependencies from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	"github.com/paul-shell/gauntlet-exchange/internal/config"
	"github.com/paul-shell/gauntlet-exchange/internal/encoder"
	"github.com/paul-shell/gauntlet-exchange/internal/index"
	"github.com/paul-shell/gauntlet-exchange/internal/job"
	"github.com/paul-shell/gauntlet-exchange/internal/pipeline"
	"github.com/paul-shell/gauntlet-exchange/internal/queue"
	"github.com/paul-shell/gauntlet-exchange/internal/storage"
	"github.com/paul-shell/gauntlet-exchange/internal/worker"
)

// Dependencies holds all initialized dependencies of the worker.
type Dependencies struct {
	Store    storage.BlobStore
	Queue    queue.Queue
	Pipeline *pipeline.Pipeline
	Worker   *worker.Loop
	Runs     job.Repository

	closers []func() error
}

// NewDependencies creates and initializes all dependencies for the worker.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}

	store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	deps.Store = store

	var sqsClient *sqs.Client
	if cfg.QueueBackend == config.QueueSQS || cfg.DeadLetterBackend == config.DeadLetterSQS {
		sqsClient, err = queue.NewSQSClient(ctx, queue.SQSConfig{
			Region:          cfg.SQSRegionOrDefault(),
			Endpoint:        cfg.SQSEndpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create SQS client: %w", err)
		}
	}

	deps.Queue = initQueue(cfg, sqsClient, logger)

	deadLetter, err := deps.initDeadLetter(ctx, cfg, sqsClient, logger)
	if err != nil {
		return nil, err
	}

	enc := encoder.NewFFmpegEncoder(cfg.FFmpegPath, logger,
		encoder.WithProgressInterval(cfg.ProgressLogInterval),
	)
	updater := index.NewUpdater(store, logger)

	deps.Pipeline = pipeline.New(store, enc, updater, logger,
		pipeline.WithScratchDir(cfg.ScratchDir),
		pipeline.WithMaxParallelEncodes(cfg.ParallelEncodes()),
		pipeline.WithThumbnailOffset(cfg.ThumbnailOffset),
	)

	deps.Runs = job.NewMemoryRepository(cfg.RunHistory)
	deps.Worker = worker.New(deps.Queue, deps.Pipeline, logger,
		worker.WithLeaseDuration(cfg.LeaseDuration),
		worker.WithPollDelay(cfg.PollDelay),
		worker.WithMaxDeliveries(cfg.MaxDeliveries),
		worker.WithDeadLetter(deadLetter),
		worker.WithHistory(deps.Runs),
	)

	return deps, nil
}

// Close releases connections held by the dependencies.
func (d *Dependencies) Close() error {
	var errs []error
	for _, c := range d.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// initStorage creates the blob store selected by STORAGE_BACKEND.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.BlobStore, error) {
	switch cfg.StorageBackend {
	case config.StorageS3:
		s3Store, err := storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil

	case config.StorageMinio:
		minioStore, err := storage.NewMinioStorage(storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			Bucket:    cfg.MinioBucket,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			UseSSL:    cfg.MinioUseSSL,
			Region:    cfg.MinioRegion,
		})
		if err != nil {
			return nil, fmt.Errorf("create minio storage: %w", err)
		}
		logger.Info("minio storage configured",
			slog.String("endpoint", cfg.MinioEndpoint),
			slog.String("bucket", cfg.MinioBucket),
		)
		return minioStore, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.StorageRoot)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("root", cfg.StorageRoot),
	)
	return localStore, nil
}

// initQueue creates the work queue selected by QUEUE_BACKEND.
func initQueue(cfg *config.Config, client *sqs.Client, logger *slog.Logger) queue.Queue {
	if cfg.QueueBackend == config.QueueSQS {
		logger.Info("SQS work queue configured", slog.String("queue_url", cfg.SQSQueueURL))
		return queue.NewSQSQueue(client, cfg.SQSQueueURL)
	}
	logger.Warn("in-memory work queue configured; messages are lost on restart")
	return queue.NewMemoryQueue()
}

// initDeadLetter creates the sink selected by DEAD_LETTER_BACKEND.
func (d *Dependencies) initDeadLetter(ctx context.Context, cfg *config.Config, client *sqs.Client, logger *slog.Logger) (queue.DeadLetter, error) {
	switch cfg.DeadLetterBackend {
	case config.DeadLetterSQS:
		logger.Info("SQS dead-letter queue configured", slog.String("queue_url", cfg.SQSDeadLetterURL))
		return queue.NewSQSDeadLetter(client, cfg.SQSDeadLetterURL), nil

	case config.DeadLetterRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		d.closers = append(d.closers, rdb.Close)
		logger.Info("redis dead-letter list configured",
			slog.String("addr", cfg.RedisAddr),
			slog.String("key", cfg.RedisDeadLetterKey),
		)
		return queue.NewRedisDeadLetter(rdb, cfg.RedisDeadLetterKey), nil
	}
	return queue.NewNopDeadLetter(logger), nil
}
