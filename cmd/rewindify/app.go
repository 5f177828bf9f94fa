package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/navinbhat12/rewindify/internal/api"
	"github.com/navinbhat12/rewindify/internal/common/config"
	"github.com/navinbhat12/rewindify/internal/common/database"
	"github.com/navinbhat12/rewindify/internal/common/database/migrate"
	"github.com/navinbhat12/rewindify/internal/common/logger"
	"github.com/navinbhat12/rewindify/internal/common/observability"
	"github.com/navinbhat12/rewindify/internal/events"
	"github.com/navinbhat12/rewindify/internal/history"
	"github.com/navinbhat12/rewindify/internal/ingest"
	"github.com/navinbhat12/rewindify/internal/reaper"
	"github.com/navinbhat12/rewindify/internal/session"
	"github.com/navinbhat12/rewindify/internal/stats"
)

// app holds every wired component of one process.
type app struct {
	cfg    *config.Config
	zapLog *zap.Logger
	log    logger.Logger
	obs    *observability.Observability

	sql   *database.SQLClient
	redis *database.RedisClient

	sessions    *session.Manager
	events      events.Store
	reassembler *ingest.Reassembler
	stats       *stats.Engine
	service     *history.Service
	reaper      *reaper.Reaper
}

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	zapLog := logger.NewWithOutput(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	a := &app{
		cfg:    cfg,
		zapLog: zapLog,
		log:    logger.NewZapAdapter(zapLog).WithFields(map[string]interface{}{"service": cfg.App.Name}),
	}
	a.obs = observability.New(cfg.App.Name, a.log)

	if err := a.connect(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) connect(ctx context.Context) error {
	if a.cfg.UsesSQL() {
		err := retryWithBackoff(func() error {
			client, err := database.NewSQL(a.cfg)
			if err != nil {
				return err
			}
			if err := client.Ping(ctx); err != nil {
				_ = client.Close()
				return err
			}
			a.sql = client
			return nil
		}, 10, 2*time.Second, a.zapLog, fmt.Sprintf("%s connection", a.cfg.Storage.Driver))
		if err != nil {
			return err
		}
		a.zapLog.Info("Relational store connected", zap.String("driver", a.cfg.Storage.Driver))

		if err := migrate.Run(a.sql, a.log); err != nil {
			return err
		}
	}

	if a.cfg.UsesRedis() {
		err := retryWithBackoff(func() error {
			client, err := database.NewRedis(a.cfg.Database.Redis)
			if err != nil {
				return err
			}
			if err := client.Ping(ctx); err != nil {
				_ = client.Close()
				return err
			}
			a.redis = client
			return nil
		}, 10, 2*time.Second, a.zapLog, "Redis connection")
		if err != nil {
			return err
		}
		a.zapLog.Info("Redis connected", zap.String("address", a.cfg.Database.Redis.Address))
	}
	return nil
}

func (a *app) wire() error {
	var sessionStore session.Store
	switch a.cfg.Session.Backend {
	case "redis":
		sessionStore = session.NewRedisStore(a.redis.Client)
	case "sql":
		sessionStore = session.NewSQLStore(a.sql.DB, a.sql.Dialect)
	default:
		sessionStore = session.NewMemoryStore()
	}
	a.sessions = session.NewManager(sessionStore, a.cfg.Session.TTL(), a.log)

	if a.cfg.Storage.Driver == "memory" {
		a.events = events.NewMemoryStore()
	} else {
		a.events = events.NewSQLStore(a.sql.DB, a.sql.Dialect, a.cfg.Storage.BatchSize, a.log)
	}

	var locker ingest.Locker = ingest.NewMemoryLocker()
	if a.cfg.Ingest.LockBackend == "redis" {
		locker = ingest.NewRedisLocker(a.redis.Client, config.GetDuration(a.cfg.Ingest.LockLeaseMs))
	}

	ingestCfg, err := ingest.NewConfig(a.cfg.Ingest)
	if err != nil {
		return err
	}
	a.reassembler = ingest.NewReassembler(a.sessions, a.events, locker, ingestCfg, a.log)
	a.stats = stats.NewEngine(a.events, a.cfg.Stats.TopN, a.log)
	a.service = history.NewService(a.sessions, a.reassembler, a.stats, a.obs, a.log)
	a.reaper = reaper.New(a.sessions, a.reassembler, a.cfg.Reaper.Interval(), a.log)
	return nil
}

func (a *app) router() *api.Router {
	r := api.NewRouter(a.service, a.cfg.Server, a.log)
	if a.sql != nil {
		r.WithHealthCheck(a.cfg.Storage.Driver, a.sql.Ping)
	}
	if a.redis != nil {
		r.WithHealthCheck("redis", a.redis.Ping)
	}
	return r
}

func (a *app) Close() {
	if a.reaper != nil {
		a.reaper.Stop()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.sql != nil {
		_ = a.sql.Close()
	}
	a.obs.Shutdown()
	_ = a.zapLog.Sync()
}
