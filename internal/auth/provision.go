package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrUsernameTaken は同じユーザー名のアカウントが既にある場合に返されます。
var ErrUsernameTaken = errors.New("username already exists")

// UserCreator はアカウントを新規作成できるストアです。
type UserCreator interface {
	UserStore
	Create(ctx context.Context, user *User) error
}

// Provision は管理者アカウントが無ければ作成します。
// 作成直後のアカウントは必ず forcePasswordChange=true です。既存のアカウントには触れません。
func (m *Manager) Provision(ctx context.Context, store UserCreator, username, password string) (*User, bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, false, errors.New("username is required")
	}

	existing, err := store.FindByUsername(ctx, username)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, ErrUserNotFound):
		return nil, false, fmt.Errorf("find user: %w", err)
	}

	if err := m.validateNewPassword(password); err != nil {
		return nil, false, err
	}
	hash, err := m.HashPassword(password)
	if err != nil {
		return nil, false, err
	}

	user := &User{
		ID:                  uuid.NewString(),
		Username:            username,
		PasswordHash:        hash,
		ForcePasswordChange: true,
	}
	if err := store.Create(ctx, user); err != nil {
		return nil, false, fmt.Errorf("create user: %w", err)
	}
	m.logger.InfoContext(ctx, "admin account provisioned", "user_id", user.ID, "username", username)
	return user, true, nil
}
