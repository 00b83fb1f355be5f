package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/YasodaLAE/transformer/internal/application"
	appannotations "github.com/YasodaLAE/transformer/internal/application/annotations"
	appdetections "github.com/YasodaLAE/transformer/internal/application/detections"
	apptraining "github.com/YasodaLAE/transformer/internal/application/training"
	"github.com/YasodaLAE/transformer/internal/config"
	"github.com/YasodaLAE/transformer/internal/domain/annotations"
	"github.com/YasodaLAE/transformer/internal/domain/detections"
	"github.com/YasodaLAE/transformer/internal/domain/inspections"
	"github.com/YasodaLAE/transformer/internal/domain/process"
	"github.com/YasodaLAE/transformer/internal/domain/training"
	"github.com/YasodaLAE/transformer/internal/infra/db/memory"
	mysqlp "github.com/YasodaLAE/transformer/internal/infra/db/mysql"
	"github.com/YasodaLAE/transformer/internal/infra/db/postgres"
	"github.com/YasodaLAE/transformer/internal/infra/db/sqlite"
	"github.com/YasodaLAE/transformer/internal/infra/db/sqlstore"
	"github.com/YasodaLAE/transformer/internal/infra/executor/docker"
	"github.com/YasodaLAE/transformer/internal/infra/executor/subprocess"
	"github.com/YasodaLAE/transformer/internal/infra/imaging"
	"github.com/YasodaLAE/transformer/internal/infra/lock"
	"github.com/YasodaLAE/transformer/internal/infra/metrics"
	"github.com/YasodaLAE/transformer/internal/infra/storage"
	"github.com/YasodaLAE/transformer/internal/middleware"
)

// repositories is one database backend behind the domain ports.
type repositories struct {
	annotations annotations.Repository
	detections  detections.Repository
	inspections inspections.Repository
	models      training.ModelStore

	migrate func(ctx context.Context) error
	health  middleware.HealthChecker
	close   func() error
}

func openRepositories(ctx context.Context, cfg *config.Config) (*repositories, error) {
	var (
		store *sqlstore.Store
		err   error
	)
	switch cfg.Database.Driver {
	case "memory":
		db := memory.NewDB()
		return &repositories{
			annotations: memory.NewAnnotationRepository(db),
			detections:  memory.NewDetectionRepository(db),
			inspections: memory.NewInspectionRepository(db),
			models:      memory.NewModelRepository(db),
			migrate:     func(context.Context) error { return nil },
			health:      middleware.CheckFunc(func(context.Context) error { return nil }),
			close:       func() error { return nil },
		}, nil
	case "mysql":
		store, err = mysqlp.Open(ctx, cfg.MySQLDSN(), cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	case "postgres":
		store, err = postgres.Open(ctx, cfg.PostgresDSN(), cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	case "sqlite":
		store, err = sqlite.Open(ctx, cfg.SQLiteDSN())
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("%s connect error: %w", cfg.Database.Driver, err)
	}
	return &repositories{
		annotations: sqlstore.NewAnnotationRepository(store),
		detections:  sqlstore.NewDetectionRepository(store),
		inspections: sqlstore.NewInspectionRepository(store),
		models:      sqlstore.NewModelRepository(store),
		migrate:     store.Migrate,
		health:      &middleware.DatabaseHealthChecker{DB: store.DB()},
		close:       store.DB().Close,
	}, nil
}

// app is the fully wired process.
type app struct {
	cfg *config.Config
	log *zap.Logger

	repos     *repositories
	metrics   *metrics.Metrics
	artifacts *storage.Store
	health    *middleware.Checks

	annotations *appannotations.Service
	detections  *appdetections.Service
	training    *apptraining.Service

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log, health: middleware.NewChecks()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.repos, err = openRepositories(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.repos.close)
	a.health.Require("database", a.repos.health)
	if err := a.repos.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate error: %w", err)
	}

	a.metrics, err = metrics.New()
	if err != nil {
		return nil, fmt.Errorf("metrics init error: %w", err)
	}

	var locker application.Locker = lock.NewMemoryLocker()
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		rl := lock.NewRedisLocker(client, cfg.Redis.LockTTL, log)
		if err := rl.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis connect error: %w", err)
		}
		a.health.Require("redis", middleware.CheckFunc(rl.Ping))
		locker = rl
	}

	if cfg.Minio.Enabled {
		a.artifacts, err = storage.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			return nil, fmt.Errorf("minio init error: %w", err)
		}
		a.health.Optional("minio", middleware.CheckFunc(a.artifacts.Ping))
	}

	files, err := storage.NewFileSystem(cfg.Storage.Root, cfg.Storage.BaselineDir)
	if err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}
	dataset, err := storage.NewYOLODataset(cfg.Trainer.DatasetDir)
	if err != nil {
		return nil, fmt.Errorf("dataset init error: %w", err)
	}
	registry, err := apptraining.NewRegistry(ctx, a.repos.models, cfg.Trainer.ModelDir)
	if err != nil {
		return nil, fmt.Errorf("model registry error: %w", err)
	}

	runner := subprocess.NewRunner(log)
	var detector, trainer process.Spawner = runner, runner
	if cfg.Detector.DockerImage != "" {
		detector = docker.NewRunner(cfg.Detector.DockerImage, runner, files.Root(), cfg.Trainer.ModelDir)
	}
	if cfg.Trainer.DockerImage != "" {
		tr := docker.NewRunner(cfg.Trainer.DockerImage, runner,
			files.Root(), dataset.Root(), cfg.Trainer.ModelDir, filepath.Dir(cfg.Trainer.InitialModel))
		tr.ExtraArgs = cfg.Trainer.DockerArgs
		trainer = tr
	}
	clock := application.SystemClock{}

	a.annotations = &appannotations.Service{
		Repo:        a.repos.annotations,
		Inspections: a.repos.inspections,
		Results:     a.repos.detections,
		Locker:      locker,
		Clock:       clock,
		Metrics:     a.metrics,
		Log:         log,
	}
	a.detections = &appdetections.Service{
		Inspections:      a.repos.inspections,
		Repo:             a.repos.detections,
		Files:            files,
		Spawner:          detector,
		Models:           registry,
		Locker:           locker,
		Clock:            clock,
		Metrics:          a.metrics,
		Log:              log,
		Command:          cfg.Detector.Command,
		DefaultThreshold: cfg.Detector.DefaultThreshold,
		Timeout:          cfg.Detector.Timeout,
	}
	a.training = &apptraining.Service{
		Annotations:  a.repos.annotations,
		Inspections:  a.repos.inspections,
		Files:        files,
		Dataset:      dataset,
		ImageSize:    imaging.Dimensions,
		Spawner:      trainer,
		Registry:     registry,
		Clock:        clock,
		Metrics:      a.metrics,
		Log:          log,
		Command:      cfg.Trainer.Command,
		ModelDir:     cfg.Trainer.ModelDir,
		InitialModel: cfg.Trainer.InitialModel,
		Timeout:      cfg.Trainer.Timeout,
	}
	if a.artifacts != nil {
		a.training.Artifacts = a.artifacts
	}

	log.Info("application wired",
		zap.String("database", cfg.Database.Driver),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.Bool("minio", cfg.Minio.Enabled),
		zap.String("model", registry.Current()))
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
