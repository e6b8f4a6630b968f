// Package logging はアプリケーション共通の slog ロガーを組み立てます。
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// New は環境に応じたロガーを返します。本番は JSON、それ以外はテキストで出力します。
// level は debug, info, warn, error のいずれかで、不明な値は info として扱います。
func New(w io.Writer, production bool, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if production {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel は文字列を slog.Level に変換します。
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
