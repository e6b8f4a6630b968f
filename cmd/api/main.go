// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/voyage-cms/internal/auth"
	"github.com/yourusername/voyage-cms/internal/config"
	"github.com/yourusername/voyage-cms/internal/gateway"
	"github.com/yourusername/voyage-cms/internal/logging"
	"github.com/yourusername/voyage-cms/internal/storage"
	"github.com/yourusername/voyage-cms/internal/upload"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(os.Stdout, cfg.IsProduction(), cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()
	// X-Forwarded-For は信頼するプロキシから来た場合だけ使う。未設定なら接続元アドレスがレート制限のキーになる
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Fatalf("Invalid TRUSTED_PROXIES: %v", err)
	}

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins()
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
	}
	corsConfig.ExposeHeaders = []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"}
	router.Use(cors.New(corsConfig))

	app, err := setupApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer app.close()

	// ルーティングの設定
	setupRoutes(router, cfg, app)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting API server", "addr", srv.Addr, "mode", cfg.GinMode, "env", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "voyage-cms-api",
		"version": "0.1.0",
	})
}

// setupRoutes はゲートウェイと各ハンドラーの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, app *application) {
	// すべてのリクエストはゲートウェイを通る
	router.Use(app.gateway.Middleware())

	router.GET("/health", handleHealth)
	router.Static("/uploads", app.uploads.Root())

	api := router.Group("/api")
	{
		authRoutes := api.Group("/auth")
		{
			authRoutes.POST("/login", app.auth.Login)
			authRoutes.POST("/logout", app.auth.Logout)
			authRoutes.POST("/forgot-password", app.auth.ForgotPassword)

			// ゲートウェイでも検証済みだが、ハンドラー単体でもセッションを要求する
			authRoutes.POST("/change-password", app.auth.RequireSession(), app.auth.ChangePassword)
			authRoutes.GET("/me", app.auth.RequireSession(), app.auth.Me)
		}

		uploadHandler := upload.NewHandler(app.uploads, upload.Config{
			MaxBytes: cfg.UploadMaxBytes,
			Logger:   app.logger,
		})
		api.POST("/uploads", app.auth.RequireSession(), uploadHandler.Upload)
	}

	router.NoRoute(frontendHandler(cfg.AdminDistDir))
}

// frontendHandler はビルド済みフロントエンドを配信します。
// 存在しないパスは index.html を返し、クライアント側のルーティングに任せます。
func frontendHandler(distDir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if distDir == "" || strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, auth.ErrorBody(&auth.Error{
				Kind:    auth.KindNotFound,
				Code:    "NOT_FOUND",
				Message: "指定されたリソースは存在しません",
			}))
			return
		}

		rel := filepath.FromSlash(gateway.CleanPath(c.Request.URL.Path))
		candidate := filepath.Join(distDir, rel)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			c.File(candidate)
			return
		}
		c.File(filepath.Join(distDir, "index.html"))
	}
}

// application は main で組み立てる依存関係一式です。
type application struct {
	logger  *slog.Logger
	auth    *auth.Handler
	gateway *gateway.Gateway
	uploads *storage.Local
	closers []func() error
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("failed to close resource", "error", err)
		}
	}
}
