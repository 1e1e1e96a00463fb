// Package app builds the shared service graph used by the server, the worker and bookclubctl.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jidokhae/backend/config"
	"github.com/jidokhae/backend/internal/auth"
	"github.com/jidokhae/backend/internal/clock"
	"github.com/jidokhae/backend/internal/meetings"
	"github.com/jidokhae/backend/internal/notifications"
	"github.com/jidokhae/backend/internal/realtime"
	"github.com/jidokhae/backend/internal/registrations"
	"github.com/jidokhae/backend/internal/scheduler"
	"github.com/jidokhae/backend/internal/segments"
	"github.com/jidokhae/backend/internal/users"
	"github.com/jidokhae/backend/internal/waitlists"
	"github.com/jidokhae/backend/pkg/database"
	"github.com/jidokhae/backend/pkg/queue"
	"github.com/jidokhae/backend/pkg/redis"
)

// App holds connections, repositories and services.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Clock  clock.Clock

	Pool  *pgxpool.Pool
	Redis *redis.Client
	Queue *queue.Queue
	Hub   *realtime.Hub
	JWT   *auth.JWTService

	Meetings      *meetings.Repository
	Users         *users.Repository
	Registrations *registrations.Service
	Waitlists     *waitlists.Service
	Notifications *notifications.Service
	Segments      *segments.Service
	Scheduler     *scheduler.Scheduler
}

// NewLogger builds the production zap logger.
func NewLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}

// New connects to Postgres and Redis and wires every service.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolOptions{MaxConns: int32(cfg.Database.MaxConns)}, logger)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}

	a := &App{
		Config: cfg,
		Logger: logger,
		Clock:  clock.NewSystem(),
		Pool:   pool,
		Redis:  rdb,
		Queue:  queue.NewQueue(rdb.Client, logger),
		JWT:    auth.NewJWTService(cfg.JWT.Secret),
	}
	pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
	a.Hub = realtime.NewHub(logger, pubsub, pubsub)
	a.wire()
	return a, nil
}

func (a *App) wire() {
	cfg, logger, loc := a.Config, a.Logger, a.Config.App.Location()

	a.Meetings = meetings.NewRepository(a.Pool)
	a.Users = users.NewRepository(a.Pool)

	gateway := notifications.NewSolapiGateway(notifications.SolapiConfig{
		BaseURL:      cfg.Solapi.BaseURL,
		APIKey:       cfg.Solapi.APIKey,
		APISecret:    cfg.Solapi.APISecret,
		SenderNumber: cfg.Solapi.SenderNumber,
		PFID:         cfg.Solapi.PFID,
		Timeout:      time.Duration(cfg.Solapi.TimeoutSec) * time.Second,
	}, logger)
	a.Notifications = notifications.NewService(gateway, notifications.NewRepository(a.Pool), a.Users, a.Queue, a.Clock, logger)

	opts := []registrations.Option{
		registrations.WithClock(a.Clock),
		registrations.WithLogger(logger),
		registrations.WithDepositWindow(cfg.Ledger.DepositWindow),
		registrations.WithOccupancyPublisher(a.Hub),
	}
	if cfg.Ledger.Mode == config.LedgerModeUnguarded {
		opts = append(opts, registrations.WithUnguardedCapacityCheck())
	}
	a.Registrations = registrations.NewService(registrations.NewRepository(a.Pool, a.Meetings, a.Users), opts...)

	a.Waitlists = waitlists.NewService(waitlists.NewRepository(a.Pool, a.Meetings), a.Notifications,
		waitlists.WithClock(a.Clock),
		waitlists.WithLogger(logger),
		waitlists.WithLocation(loc),
	)
	a.Segments = segments.NewService(a.Meetings, a.Users, a.Notifications, loc, logger)
	a.Scheduler = scheduler.New(a.Registrations, a.Waitlists, redis.NewLocker(a.Redis.Client), logger)
}

// Migrate applies pending schema migrations.
func (a *App) Migrate(ctx context.Context) error {
	return database.Migrate(ctx, a.Pool)
}

// Close releases connections.
func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
