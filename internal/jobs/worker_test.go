package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/yourusername/voyage-cms/internal/auth"
)

type fakeResetter struct {
	calls []string
	err   error
}

func (f *fakeResetter) ResetPassword(_ context.Context, username string) error {
	f.calls = append(f.calls, username)
	return f.err
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Queue: QueueAuth, Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func resetTask(t *testing.T, username string) *asynq.Task {
	t.Helper()
	body, err := json.Marshal(ResetPayload{Username: username})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return asynq.NewTask(TaskTypePasswordReset, body)
}

func TestResetHandlerCallsResetter(t *testing.T) {
	resetter := &fakeResetter{}
	h := NewResetHandler(resetter, nil)

	if err := h.ProcessTask(context.Background(), resetTask(t, "fonok")); err != nil {
		t.Fatalf("ProcessTask error: %v", err)
	}
	if len(resetter.calls) != 1 || resetter.calls[0] != "fonok" {
		t.Fatalf("calls = %v", resetter.calls)
	}
}

func TestResetHandlerSkipsRetry(t *testing.T) {
	tests := []struct {
		name string
		task *asynq.Task
		err  error
	}{
		{"broken payload", asynq.NewTask(TaskTypePasswordReset, []byte("{")), nil},
		{"empty username", resetTask(t, ""), nil},
		{"reset disabled", resetTask(t, "fonok"), auth.ErrResetDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewResetHandler(&fakeResetter{err: tt.err}, nil)
			err := h.ProcessTask(context.Background(), tt.task)
			if !errors.Is(err, asynq.SkipRetry) {
				t.Fatalf("expected SkipRetry, got %v", err)
			}
		})
	}
}

func TestResetHandlerRetriesStoreFailure(t *testing.T) {
	h := NewResetHandler(&fakeResetter{err: errors.New("db down")}, nil)

	err := h.ProcessTask(context.Background(), resetTask(t, "fonok"))
	if err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestRequestResetEnqueues(t *testing.T) {
	client := &fakeEnqueuer{}
	m := &Manager{client: client, logger: discardLogger()}

	if err := m.RequestReset(context.Background(), "someoneelse"); err != nil {
		t.Fatalf("RequestReset error: %v", err)
	}
	if len(client.tasks) != 1 {
		t.Fatalf("enqueued %d tasks, want 1", len(client.tasks))
	}
	task := client.tasks[0]
	if task.Type() != TaskTypePasswordReset {
		t.Fatalf("type = %q", task.Type())
	}
	var payload ResetPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Username != "someoneelse" {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestRequestResetEnqueueFailure(t *testing.T) {
	m := &Manager{client: &fakeEnqueuer{err: errors.New("redis down")}, logger: discardLogger()}

	if err := m.RequestReset(context.Background(), "fonok"); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewManagerValidatesInput(t *testing.T) {
	if _, err := NewManager("redis://127.0.0.1:6379/0", nil, nil); err == nil {
		t.Fatal("expected error for nil resetter")
	}
	if _, err := NewManager("::not a url", &fakeResetter{}, nil); err == nil {
		t.Fatal("expected error for invalid redis url")
	}
}
