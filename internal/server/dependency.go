package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-pg/pg/v10"
	"github.com/go-pg/pg/v10/orm"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/kicet3/AIMEX-back-sub002/internal/config"
	"github.com/kicet3/AIMEX-back-sub002/internal/gpu"
	"github.com/kicet3/AIMEX-back-sub002/internal/session/repo"
)

// Dependency holds all process-wide infrastructure handles. Constructed
// once at startup and injected; nothing here is a package-level
// singleton.
type Dependency struct {
	Redis       *redis.Client
	PG          *pg.DB
	GPU         *gpu.Client
	AsynqClient *asynq.Client
	AsynqRedis  asynq.RedisClientOpt
	Logger      *slog.Logger
}

func InitDeps(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependency, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping (%s): %w", cfg.Redis.Addr, err)
	}

	pgDB := pg.Connect(&pg.Options{
		Addr:     cfg.Postgres.Addr,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		Database: cfg.Postgres.Database,
	})
	if _, err := pgDB.Exec("SELECT 1"); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("postgres ping (%s): %w", cfg.Postgres.Addr, err)
	}

	if err := pgDB.Model(&repo.SessionModel{}).CreateTable(&orm.CreateTableOptions{
		IfNotExists: true,
	}); err != nil {
		pgDB.Close()
		redisClient.Close()
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	gpuClient := gpu.NewClient(gpu.ClientConfig{
		APIKey:         cfg.GPU.APIKey,
		GraphQLURL:     cfg.GPU.GraphQLURL,
		RESTURL:        cfg.GPU.RESTURL,
		GPUType:        cfg.GPU.GPUType,
		TemplateID:     cfg.GPU.TemplateID,
		BidPerGPUHour:  cfg.GPU.BidPerGPUHour,
		AllowAutoSetup: cfg.GPU.AllowAutoSetup,
		RequestTimeout: cfg.GPU.RequestTimeout,
	}, logger)

	asynqRedisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	}
	asynqClient := asynq.NewClient(asynqRedisOpt)

	return &Dependency{
		Redis:       redisClient,
		PG:          pgDB,
		GPU:         gpuClient,
		AsynqClient: asynqClient,
		AsynqRedis:  asynqRedisOpt,
		Logger:      logger,
	}, nil
}

func (d *Dependency) Close() {
	if d.AsynqClient != nil {
		d.AsynqClient.Close()
	}
	if d.PG != nil {
		d.PG.Close()
	}
	if d.Redis != nil {
		d.Redis.Close()
	}
}
