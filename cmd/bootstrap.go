package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"flarebin/internal/config"
	"flarebin/internal/handler"
	"flarebin/internal/identity"
	"flarebin/internal/repository"
	"flarebin/internal/service"
	"flarebin/internal/storage"
)

const (
	connectAttempts = 5
	connectDelay    = 5 * time.Second
)

// backends держит открытые хранилища и то, что нужно закрыть при выходе
type backends struct {
	store   repository.MetadataStore
	objects storage.Storage
	health  []handler.HealthCheck
	closers []func() error
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Failed to close backend")
		}
	}
}

// openBackends подключает хранилища по METADATA_DRIVER и STORAGE_DRIVER.
// Для postgres схема мигрируется при подключении.
func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}

	if err := b.openMetadata(ctx, cfg.Metadata); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.openObjects(ctx, cfg.Storage); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *backends) openMetadata(ctx context.Context, cfg config.MetadataConfig) error {
	switch cfg.Driver {
	case config.MetadataPostgres:
		db, err := repository.ConnectPostgres(ctx, cfg.Database.GetDSN(), connectAttempts, connectDelay)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, db.Close)

		if err := repository.Migrate(db); err != nil {
			return err
		}
		store := repository.NewPostgresStore(db)
		b.store = store
		b.health = append(b.health, handler.HealthCheck{Name: "postgres", Check: store.Ping})

	case config.MetadataRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		b.closers = append(b.closers, client.Close)

		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		store := repository.NewRedisStore(client, cfg.Redis.KeyPrefix)
		b.store = store
		b.health = append(b.health, handler.HealthCheck{Name: "redis", Check: store.Ping})

	case config.MetadataMemory:
		log.Warn().Msg("Using in-memory metadata store, files are lost on restart")
		b.store = repository.NewMemoryStore()

	default:
		return fmt.Errorf("unknown METADATA_DRIVER %q", cfg.Driver)
	}

	log.Info().Str("driver", cfg.Driver).Msg("Metadata store ready")
	return nil
}

func (b *backends) openObjects(ctx context.Context, cfg config.StorageConfig) error {
	switch cfg.Driver {
	case storage.DriverS3:
		objects, err := storage.NewS3Storage(ctx, &cfg.S3)
		if err != nil {
			return err
		}
		b.objects = objects

	case storage.DriverMinio:
		objects, err := storage.NewMinioStorage(ctx, &cfg.Minio)
		if err != nil {
			return err
		}
		b.objects = objects

	case storage.DriverMemory:
		log.Warn().Msg("Using in-memory object storage, files are lost on restart")
		b.objects = storage.NewMemoryStorage()

	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.Driver)
	}

	log.Info().Str("driver", cfg.Driver).Msg("Object storage ready")
	return nil
}

// newServices собирает сервисный слой поверх открытых хранилищ
func newServices(cfg *config.Config, b *backends) (*service.FileService, *service.SweepService, *service.MultipartService) {
	ids := identity.NewGenerator()
	files := service.NewFileService(b.store, b.objects, ids, service.WithPageSize(cfg.Sweep.PageSize))
	sweeper := service.NewSweepService(files, b.store, cfg.Sweep.Interval, cfg.Sweep.PageSize)
	multipart := service.NewMultipartService(files, b.objects, ids)
	return files, sweeper, multipart
}
