package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/voyage-cms/internal/auth"
	"github.com/yourusername/voyage-cms/internal/config"
	"github.com/yourusername/voyage-cms/internal/gateway"
	"github.com/yourusername/voyage-cms/internal/jobs"
	"github.com/yourusername/voyage-cms/internal/ratelimit"
	"github.com/yourusername/voyage-cms/internal/storage"
	"github.com/yourusername/voyage-cms/internal/userstore"
)

// setupApp は設定に従ってストア、認証、レート制限、ゲートウェイを組み立てます。
func setupApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *application, err error) {
	app := &application{logger: logger}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	tokens, err := auth.NewTokenManager(cfg.JWTSecret, cfg.SessionTTL)
	if err != nil {
		return nil, err
	}

	users, err := setupUserStore(ctx, cfg, app)
	if err != nil {
		return nil, err
	}

	manager, err := auth.NewManager(users, tokens, auth.ManagerConfig{
		MinPasswordLength:    cfg.MinPasswordLength,
		ResetEnabled:         cfg.AllowInsecurePasswordReset && !cfg.IsProduction(),
		ResetUsername:        cfg.AdminUsername,
		ResetDefaultPassword: cfg.ResetDefaultPassword,
		Logger:               logger,
	})
	if err != nil {
		return nil, err
	}

	if err := provisionAdmin(ctx, cfg, manager, users, logger); err != nil {
		return nil, err
	}

	limitStore, err := setupRateLimitStore(cfg, app)
	if err != nil {
		return nil, err
	}
	general, err := newLimiter("general", limitStore, cfg.RateLimitRequests, cfg.RateLimitWindow, cfg, logger)
	if err != nil {
		return nil, err
	}
	login, err := newLimiter("login", limitStore, cfg.LoginRateLimit, cfg.LoginRateWindow, cfg, logger)
	if err != nil {
		return nil, err
	}
	passwordChange, err := newLimiter("password-change", limitStore, cfg.PasswordChangeRateLimit, cfg.PasswordChangeRateWindow, cfg, logger)
	if err != nil {
		return nil, err
	}

	cookie := auth.CookieConfig{Secure: cfg.SecureCookies(), MaxAge: cfg.SessionTTL}

	resetter, err := setupResetQueue(cfg, manager, app)
	if err != nil {
		return nil, err
	}

	app.auth = auth.NewHandler(manager, auth.HandlerConfig{
		Cookie:                cookie,
		Resetter:              resetter,
		PasswordChangeLimiter: passwordChange,
		Logger:                logger,
	})

	app.gateway, err = gateway.New(gateway.Config{
		Verifier:  tokens,
		General:   general,
		Sensitive: login,
		Cookie:    cookie,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	app.uploads, err = storage.NewLocal(cfg.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("prepare upload dir: %w", err)
	}
	return app, nil
}

func newLimiter(name string, store ratelimit.Store, limit int, window time.Duration, cfg *config.Config, logger *slog.Logger) (*ratelimit.Limiter, error) {
	return ratelimit.New(name, store,
		ratelimit.Rule{Limit: limit, Window: window},
		ratelimit.WithFailOpen(cfg.RateLimitFailOpen), ratelimit.WithLogger(logger))
}

// setupUserStore は USER_STORE に応じた認証情報ストアを返します。
func setupUserStore(ctx context.Context, cfg *config.Config, app *application) (auth.UserCreator, error) {
	switch cfg.UserStore {
	case config.StorePostgres:
		db, err := userstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, db.Close)
		if err := userstore.Migrate(ctx, db); err != nil {
			return nil, err
		}
		return userstore.NewPostgresStore(db)
	default:
		app.logger.Warn("using in-memory user store; password changes are lost on restart")
		return userstore.NewMemoryStore(), nil
	}
}

// provisionAdmin は ADMIN_INITIAL_PASSWORD が設定されていれば管理者アカウントを用意します。
func provisionAdmin(ctx context.Context, cfg *config.Config, manager *auth.Manager, users auth.UserCreator, logger *slog.Logger) error {
	if cfg.AdminInitialPassword == "" {
		if cfg.UserStore == config.StoreMemory {
			logger.Warn("ADMIN_INITIAL_PASSWORD is not set; no account can log in")
		}
		return nil
	}
	if _, _, err := manager.Provision(ctx, users, cfg.AdminUsername, cfg.AdminInitialPassword); err != nil {
		return fmt.Errorf("provision admin: %w", err)
	}
	return nil
}

// setupRateLimitStore は RATE_LIMIT_STORE に応じたカウンタの保存先を返します。
func setupRateLimitStore(cfg *config.Config, app *application) (ratelimit.Store, error) {
	if cfg.RateLimitStore != config.StoreRedis {
		return ratelimit.NewMemoryStore(), nil
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opt)
	app.closers = append(app.closers, client.Close)
	return ratelimit.NewRedisStore(client), nil
}

// setupResetQueue はリセットキューが有効ならワーカーを起動し、投入側を返します。
// nil を返した場合はハンドラーが同期的にリセットします。
func setupResetQueue(cfg *config.Config, manager *auth.Manager, app *application) (auth.PasswordResetter, error) {
	if !cfg.ResetQueueEnabled {
		return nil, nil
	}
	if !cfg.AllowInsecurePasswordReset {
		app.logger.Info("reset queue disabled because password reset is off")
		return nil, nil
	}

	queue, err := jobs.NewManager(cfg.RedisURL, manager, app.logger)
	if err != nil {
		return nil, fmt.Errorf("setup reset queue: %w", err)
	}
	queue.StartWorkers()
	app.closers = append(app.closers, queue.Shutdown)
	return queue, nil
}
