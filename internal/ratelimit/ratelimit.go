// Package ratelimit は固定ウィンドウ方式のレート制限を提供します。
//
// 呼び出し側は Store インターフェースだけに依存します。単一プロセスでは MemoryStore、
// 複数インスタンスで状態を共有する場合は RedisStore を使います。
// MemoryStore の状態はプロセス再起動で失われ、インスタンス間で共有されません。
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrStoreUnavailable はストアが判定を返せなかったことを表します。
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Rule はウィンドウあたりの上限です。
type Rule struct {
	Limit  int
	Window time.Duration
}

// Validate は Rule の妥当性を検証します。
func (r Rule) Validate() error {
	if r.Limit <= 0 {
		return fmt.Errorf("limit must be > 0, got %d", r.Limit)
	}
	if r.Window <= 0 {
		return fmt.Errorf("window must be > 0, got %v", r.Window)
	}
	return nil
}

// Result は consume 一回分の判定です。
type Result struct {
	Allowed bool
	Limit   int
	// Count は現在のウィンドウ内で消費された量です。拒否された分も含みます。
	Count     int
	Remaining int
	// ResetAfter は現在のウィンドウが終わるまでの時間です。拒否時は Retry-After に使います。
	ResetAfter time.Duration
}

// Store はキーごとのカウンタを原子的に更新します。
type Store interface {
	Consume(ctx context.Context, key string, cost int, rule Rule) (Result, error)
}

// Limiter は Store に名前空間と Rule を与えたものです。
type Limiter struct {
	name     string
	store    Store
	rule     Rule
	failOpen bool
	logger   *slog.Logger
}

// Option は Limiter の追加設定です。
type Option func(*Limiter)

// WithFailOpen はストア障害時にリクエストを許可するかどうかを指定します。
// 既定では許可せず、エラーを返します。
func WithFailOpen(failOpen bool) Option {
	return func(l *Limiter) {
		l.failOpen = failOpen
	}
}

// WithLogger はロガーを指定します。
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New は Limiter を作成します。
func New(name string, store Store, rule Rule, opts ...Option) (*Limiter, error) {
	if name == "" {
		return nil, errors.New("limiter name is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if err := rule.Validate(); err != nil {
		return nil, fmt.Errorf("limiter %s: %w", name, err)
	}
	l := &Limiter{
		name:   name,
		store:  store,
		rule:   rule,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Consume は key について 1 回分を消費します。
func (l *Limiter) Consume(ctx context.Context, key string) (Result, error) {
	res, err := l.store.Consume(ctx, l.name+":"+key, 1, l.rule)
	if err == nil {
		return res, nil
	}
	if l.failOpen {
		l.logger.WarnContext(ctx, "rate limit store failed, allowing request", "limiter", l.name, "error", err)
		return Result{
			Allowed:   true,
			Limit:     l.rule.Limit,
			Remaining: l.rule.Limit,
		}, nil
	}
	return Result{}, fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, l.name, err)
}

func evaluate(count int, rule Rule, resetAfter time.Duration) Result {
	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	if resetAfter < 0 {
		resetAfter = 0
	}
	return Result{
		Allowed:    count <= rule.Limit,
		Limit:      rule.Limit,
		Count:      count,
		Remaining:  remaining,
		ResetAfter: resetAfter,
	}
}
