package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// Resetter はワーカーから呼ばれる実際のリセット処理です。
type Resetter interface {
	ResetPassword(ctx context.Context, username string) error
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Manager はリセットタスクの投入とワーカーの起動を担います。
type Manager struct {
	client enqueuer
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *slog.Logger
}

// NewManager は Manager を初期化します。redisURL は redis:// 形式です。
func NewManager(redisURL string, resetter Resetter, logger *slog.Logger) (*Manager, error) {
	if resetter == nil {
		return nil, errors.New("resetter is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 1,
			Queues: map[string]int{
				QueueAuth: 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	mux.Handle(TaskTypePasswordReset, NewResetHandler(resetter, logger))

	return &Manager{
		client: asynq.NewClient(opt),
		server: server,
		mux:    mux,
		logger: logger,
	}, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logger.Error("asynq server stopped with error", "error", err)
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown() error {
	if m.server != nil {
		m.server.Shutdown()
	}
	return m.client.Close()
}

// RequestReset はリセットタスクを投入します。auth.PasswordResetter を満たします。
// 呼び出し元はユーザー名の有無にかかわらず同じ時間で応答できます。
func (m *Manager) RequestReset(ctx context.Context, username string) error {
	body, err := json.Marshal(ResetPayload{Username: username})
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypePasswordReset, body, asynq.Queue(QueueAuth))
	info, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(1))
	if err != nil {
		return fmt.Errorf("enqueue password reset: %w", err)
	}
	m.logger.DebugContext(ctx, "password reset enqueued", "task_id", info.ID)
	return nil
}
