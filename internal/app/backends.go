// Package app connects the storage and lock backends selected in config.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-slot-booking/internal/api"
	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/config"
	"github.com/hackgods/clinic-slot-booking/internal/db"
	redisclient "github.com/hackgods/clinic-slot-booking/internal/redis"
)

type Backends struct {
	Repo   appointment.Repository
	Locker redisclient.Locker
	Pool   *pgxpool.Pool // nil with memory storage
	Redis  *redis.Client // nil with the local lock

	log zerolog.Logger
}

// Open connects whatever cfg asks for. On error everything already opened is
// closed again.
func Open(ctx context.Context, cfg config.Config, log zerolog.Logger) (_ *Backends, err error) {
	b := &Backends{log: log}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	switch cfg.StorageBackend {
	case config.StoragePostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		b.Pool, err = db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: cfg.DBMaxConns})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		b.Repo = appointment.NewPgRepository(b.Pool)
		log.Info().Msg("connected to Postgres")
	default:
		b.Repo = appointment.NewMemoryRepository()
		log.Warn().Msg("using in-memory storage, data is lost on restart")
	}

	switch cfg.LockBackend {
	case config.LockRedis:
		b.Redis, err = redisclient.NewRedisClient(ctx, redisclient.ClientOptions{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("redis connection: %w", err)
		}
		b.Locker = redisclient.NewRedisLocker(b.Redis, cfg.LockTTL, cfg.LockWait)
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	default:
		b.Locker = redisclient.NewLocalLocker()
	}

	return b, nil
}

// HealthChecks lists a readiness probe per connected backend. Postgres is
// critical; a Redis outage only degrades provisioning.
func (b *Backends) HealthChecks() []api.Dependency {
	var deps []api.Dependency
	if b.Pool != nil {
		deps = append(deps, api.Dependency{Name: "postgres", Ping: b.Pool.Ping, Critical: true})
	}
	if b.Redis != nil {
		deps = append(deps, api.Dependency{Name: "redis", Ping: func(ctx context.Context) error {
			return b.Redis.Ping(ctx).Err()
		}})
	}
	return deps
}

func (b *Backends) Close() {
	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil {
			b.log.Error().Err(err).Msg("error closing redis")
		}
	}
	if b.Pool != nil {
		b.Pool.Close()
	}
}
