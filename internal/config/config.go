// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 実行環境
const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"
)

// DefaultSessionTTL はセッションの有効期間です。クッキーの Max-Age も同じ値になります。
const DefaultSessionTTL = time.Hour

// ストアの種類
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	AppEnv         string // development, test, production
	Port           string // APIサーバーのポート番号
	GinMode        string // Ginの実行モード (debug, release, test)
	TrustedProxies []string
	LogLevel       string

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// セッション設定（JWTSecret はログに出さない）
	JWTSecret  string
	SessionTTL time.Duration

	// ユーザーストア
	UserStore            string // memory または postgres
	DatabaseURL          string
	AdminUsername        string // 唯一の管理者アカウント
	AdminInitialPassword string // シードとメモリストアの初期化に使う

	// レート制限
	RateLimitStore           string // memory または redis
	RedisURL                 string
	RateLimitRequests        int
	RateLimitWindow          time.Duration
	LoginRateLimit           int
	LoginRateWindow          time.Duration
	PasswordChangeRateLimit  int
	PasswordChangeRateWindow time.Duration
	RateLimitFailOpen        bool

	// パスワード
	MinPasswordLength          int
	AllowInsecurePasswordReset bool
	ResetDefaultPassword       string
	ResetQueueEnabled          bool

	// アップロード/フロントエンド
	UploadDir      string
	UploadMaxBytes int64
	AdminDistDir   string
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	var errs []error
	config := &Config{
		AppEnv:         getEnv("APP_ENV", EnvDevelopment),
		Port:           getEnv("PORT", "8080"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		TrustedProxies: splitList(getEnv("TRUSTED_PROXIES", "")),
		LogLevel:       getEnv("LOG_LEVEL", "info"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),

		JWTSecret:  os.Getenv("JWT_SECRET"),
		SessionTTL: getEnvAsDuration("SESSION_TTL", DefaultSessionTTL, &errs),

		UserStore:            strings.ToLower(getEnv("USER_STORE", StoreMemory)),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		AdminUsername:        getEnv("ADMIN_USERNAME", "fonok"),
		AdminInitialPassword: getEnv("ADMIN_INITIAL_PASSWORD", ""),

		RateLimitStore:           strings.ToLower(getEnv("RATE_LIMIT_STORE", StoreMemory)),
		RedisURL:                 getEnv("REDIS_URL", "redis://127.0.0.1:6379/0"),
		RateLimitRequests:        getEnvAsInt("RATE_LIMIT_REQUESTS", 100, &errs),
		RateLimitWindow:          getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute, &errs),
		LoginRateLimit:           getEnvAsInt("LOGIN_RATE_LIMIT", 10, &errs),
		LoginRateWindow:          getEnvAsDuration("LOGIN_RATE_WINDOW", 15*time.Minute, &errs),
		PasswordChangeRateLimit:  getEnvAsInt("PASSWORD_CHANGE_RATE_LIMIT", 5, &errs),
		PasswordChangeRateWindow: getEnvAsDuration("PASSWORD_CHANGE_RATE_WINDOW", 15*time.Minute, &errs),
		RateLimitFailOpen:        getEnvAsBool("RATE_LIMIT_FAIL_OPEN", false, &errs),

		MinPasswordLength:          getEnvAsInt("MIN_PASSWORD_LENGTH", 6, &errs),
		AllowInsecurePasswordReset: getEnvAsBool("ALLOW_INSECURE_PASSWORD_RESET", false, &errs),
		ResetDefaultPassword:       getEnv("RESET_DEFAULT_PASSWORD", ""),
		ResetQueueEnabled:          getEnvAsBool("RESET_QUEUE_ENABLED", false, &errs),

		UploadDir:      getEnv("UPLOAD_DIR", "./public/uploads"),
		UploadMaxBytes: getEnvAsInt64("UPLOAD_MAX_BYTES", 5*1024*1024, &errs),
		AdminDistDir:   getEnv("ADMIN_DIST_DIR", ""),
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	switch c.AppEnv {
	case EnvDevelopment, EnvTest, EnvProduction:
	default:
		return fmt.Errorf("APP_ENV must be one of development, test, production: %q", c.AppEnv)
	}

	switch c.UserStore {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when USER_STORE=postgres")
		}
	default:
		return fmt.Errorf("USER_STORE must be memory or postgres: %q", c.UserStore)
	}

	switch c.RateLimitStore {
	case StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("RATE_LIMIT_STORE must be memory or redis: %q", c.RateLimitStore)
	}
	if (c.RateLimitStore == StoreRedis || c.ResetQueueEnabled) && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required for the redis rate limit store and the reset queue")
	}

	if c.RateLimitRequests <= 0 || c.LoginRateLimit <= 0 || c.PasswordChangeRateLimit <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if c.RateLimitWindow <= 0 || c.LoginRateWindow <= 0 || c.PasswordChangeRateWindow <= 0 {
		return fmt.Errorf("rate limit windows must be positive")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	// セッションは 1 時間固定。短縮できるのはテスト環境だけ
	if c.SessionTTL != DefaultSessionTTL && c.AppEnv != EnvTest {
		return fmt.Errorf("SESSION_TTL can only be changed when APP_ENV=test: %v", c.SessionTTL)
	}
	if c.MinPasswordLength <= 0 {
		return fmt.Errorf("MIN_PASSWORD_LENGTH must be positive")
	}
	if c.AdminUsername == "" {
		return fmt.Errorf("ADMIN_USERNAME is required")
	}

	// 固定ユーザー名のリセットは開発用。本番では起動させない
	if c.AllowInsecurePasswordReset {
		if c.IsProduction() {
			return fmt.Errorf("ALLOW_INSECURE_PASSWORD_RESET must not be enabled in production")
		}
		if c.ResetDefaultPassword == "" {
			return fmt.Errorf("RESET_DEFAULT_PASSWORD is required when ALLOW_INSECURE_PASSWORD_RESET=true")
		}
	}

	return nil
}

// IsProduction は本番環境かどうかを返します。
func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

// SecureCookies はクッキーに Secure 属性を付けるかどうかを返します。ローカル開発以外では常に true です。
func (c *Config) SecureCookies() bool {
	return c.AppEnv != EnvDevelopment
}

// AllowedOrigins は CORS 許可オリジンの一覧です。
func (c *Config) AllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。解釈できない値はエラーとして errs に積みます。
func getEnvAsInt(key string, defaultValue int, errs *[]error) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64, errs *[]error) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。
func getEnvAsBool(key string, defaultValue bool, errs *[]error) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数を time.Duration として取得します (例: 15m, 1h)。
func getEnvAsDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return value
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
