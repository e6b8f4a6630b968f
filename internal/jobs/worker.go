// Package jobs はパスワードリセットを Asynq のバックグラウンドタスクとして実行します。
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/yourusername/voyage-cms/internal/auth"
)

// ResetHandler は auth:password-reset タスクを処理します。
type ResetHandler struct {
	resetter Resetter
	logger   *slog.Logger
}

// NewResetHandler は ResetHandler を作成します。
func NewResetHandler(resetter Resetter, logger *slog.Logger) *ResetHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResetHandler{resetter: resetter, logger: logger}
}

// ProcessTask は asynq.Handler を満たします。
// 壊れたペイロードと無効化された機能は再試行しても結果が変わらないため SkipRetry にします。
func (h *ResetHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload ResetPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Username == "" {
		return fmt.Errorf("missing username in payload: %w", asynq.SkipRetry)
	}

	err := h.resetter.ResetPassword(ctx, payload.Username)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, auth.ErrResetDisabled):
		h.logger.DebugContext(ctx, "password reset task dropped, reset disabled")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	default:
		h.logger.ErrorContext(ctx, "password reset task failed", "error", err)
		return err
	}
}
