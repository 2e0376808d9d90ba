package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/raakeshmj/keyplane/internal/audit"
	"github.com/raakeshmj/keyplane/internal/auth"
	"github.com/raakeshmj/keyplane/internal/cache"
	"github.com/raakeshmj/keyplane/internal/circuitbreaker"
	"github.com/raakeshmj/keyplane/internal/clock"
	"github.com/raakeshmj/keyplane/internal/config"
	"github.com/raakeshmj/keyplane/internal/db"
	"github.com/raakeshmj/keyplane/internal/limiter"
	"github.com/raakeshmj/keyplane/internal/lock"
	"github.com/raakeshmj/keyplane/internal/metrics"
	"github.com/raakeshmj/keyplane/internal/policy"
	"github.com/raakeshmj/keyplane/internal/reliability"
	"github.com/raakeshmj/keyplane/internal/repository/gormrepo"
	"github.com/raakeshmj/keyplane/internal/service"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App owns every long-lived dependency built from a Config.
type App struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  *redis.Client

	Projects *service.ProjectService
	Keys     *service.APIKeyService
	Users    *service.UserService
	Server   *Server
}

// NewApp connects the database (migrating it), prepares the Redis client and
// wires the services. Redis is dialled lazily so the app starts without it.
func NewApp(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	strategy, err := reliability.ParseStrategy(cfg.RateLimitFailureStrategy)
	if err != nil {
		return nil, err
	}
	cipher, err := auth.NewCipher(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}

	gdb, err := db.Open(cfg.DatabaseDriver, cfg.DatabaseURL, log)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	m := metrics.New()
	clk := clock.Real()
	redisBreaker := circuitbreaker.New(circuitbreaker.Settings{
		Name:             "redis",
		FailureThreshold: uint32(cfg.BreakerFailureThreshold),
		Timeout:          cfg.BreakerTimeout,
	}, log, m.BreakerTransition)
	storeBreaker := circuitbreaker.New(circuitbreaker.Settings{
		Name:             "store",
		FailureThreshold: uint32(cfg.BreakerFailureThreshold),
		Timeout:          cfg.BreakerTimeout,
	}, log, m.BreakerTransition)

	keyRepo := gormrepo.NewAPIKeyRepository(gdb)
	projectRepo := gormrepo.NewProjectRepository(gdb)
	userRepo := gormrepo.NewUserRepository(gdb)
	validations := cache.NewRedisCache(rdb, redisBreaker, log)

	keys := service.NewAPIKeyService(keyRepo, projectRepo, validations, service.APIKeyOptions{
		KeyTag:          cfg.APIKeyPrefix,
		CacheTTL:        cfg.APIKeyCacheTTL,
		LastUsedTimeout: cfg.LastUsedTimeout,
		RotateLockTTL:   cfg.RotateLockTTL,
		Clock:           clk,
		Locker:          lock.NewRedisLocker(rdb),
		Metrics:         m,
		Logger:          log,
	})
	projects := service.NewProjectService(projectRepo, keyRepo, validations, cipher, log)
	users := service.NewUserService(userRepo, auth.NewJWTManager(cfg.JWTSecret, cfg.JWTTTL), clk, log)

	srv := New(cfg, Dependencies{
		Projects: projects,
		Keys:     keys,
		Users:    users,
		Limiter: limiter.NewSlidingWindow(rdb, log,
			limiter.WithClock(clk),
			limiter.WithBreaker(redisBreaker),
			limiter.WithFailureStrategy(strategy),
		),
		Policies:     policy.NewEngine(policy.DefaultPolicies()...),
		Dynamic:      config.NewDynamicConfigManager(cfg.Policy()),
		Audit:        audit.NewZapLogger(log),
		Metrics:      m,
		Clock:        clk,
		StoreBreaker: storeBreaker,
		Breakers:     map[string]*circuitbreaker.CircuitBreaker{"redis": redisBreaker, "store": storeBreaker},
		Checks: map[string]Check{
			"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			"database": func(ctx context.Context) error {
				sqlDB, err := gdb.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
		},
	}, log)

	return &App{
		Config:   cfg,
		DB:       gdb,
		Redis:    rdb,
		Projects: projects,
		Keys:     keys,
		Users:    users,
		Server:   srv,
	}, nil
}

// Close waits for background key writes, then releases connections.
func (a *App) Close() error {
	a.Keys.Wait()

	var errs []error
	if err := a.Redis.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close redis: %w", err))
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
