// Package main は管理者アカウントを PostgreSQL に作成するシードコマンドです。
//
// アカウントが既に存在する場合は何もしません。作成したアカウントは初回ログイン時に
// パスワード変更が必要です。
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/yourusername/voyage-cms/internal/auth"
	"github.com/yourusername/voyage-cms/internal/config"
	"github.com/yourusername/voyage-cms/internal/logging"
	"github.com/yourusername/voyage-cms/internal/userstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.New(os.Stdout, cfg.IsProduction(), cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	if cfg.AdminInitialPassword == "" {
		log.Fatal("ADMIN_INITIAL_PASSWORD is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := userstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	defer db.Close()

	if err := userstore.Migrate(ctx, db); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}

	store, err := userstore.NewPostgresStore(db)
	if err != nil {
		log.Fatalf("Failed to create store: %v", err)
	}
	tokens, err := auth.NewTokenManager(cfg.JWTSecret, cfg.SessionTTL)
	if err != nil {
		log.Fatalf("Failed to create token manager: %v", err)
	}
	manager, err := auth.NewManager(store, tokens, auth.ManagerConfig{
		MinPasswordLength: cfg.MinPasswordLength,
		Logger:            logger,
	})
	if err != nil {
		log.Fatalf("Failed to create auth manager: %v", err)
	}

	user, created, err := manager.Provision(ctx, store, cfg.AdminUsername, cfg.AdminInitialPassword)
	if err != nil {
		log.Fatalf("Failed to provision admin: %v", err)
	}
	if !created {
		logger.Info("admin account already exists", "username", user.Username)
		return
	}
	logger.Info("admin account created; password change required on first login", "username", user.Username)
}
