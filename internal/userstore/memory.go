// Package userstore は auth.UserStore の実装を提供します。
//
// MemoryStore は開発とテスト用で、内容はプロセス終了で失われます。
// 永続化が必要な環境では PostgresStore を使います。
package userstore

import (
	"context"
	"errors"
	"sync"

	"github.com/yourusername/voyage-cms/internal/auth"
)

// MemoryStore はプロセス内のユーザー表です。
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]auth.User
	byUsername map[string]string
}

// NewMemoryStore は空の MemoryStore を作成します。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]auth.User),
		byUsername: make(map[string]string),
	}
}

// Create はユーザーを追加します。ユーザー名が重複していれば auth.ErrUsernameTaken です。
func (s *MemoryStore) Create(_ context.Context, user *auth.User) error {
	if user == nil || user.ID == "" || user.Username == "" || user.PasswordHash == "" {
		return errors.New("id, username, and password hash are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[user.Username]; ok {
		return auth.ErrUsernameTaken
	}
	if _, ok := s.byID[user.ID]; ok {
		return errors.New("user id already exists")
	}
	s.byID[user.ID] = *user
	s.byUsername[user.Username] = user.ID
	return nil
}

// FindByUsername は auth.UserStore を満たします。
func (s *MemoryStore) FindByUsername(_ context.Context, username string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[username]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	u := s.byID[id]
	return &u, nil
}

// FindByID は auth.UserStore を満たします。
func (s *MemoryStore) FindByID(_ context.Context, id string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return &u, nil
}

// UpdatePassword は auth.UserStore を満たします。
func (s *MemoryStore) UpdatePassword(_ context.Context, id, passwordHash string, forcePasswordChange bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return auth.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	u.ForcePasswordChange = forcePasswordChange
	s.byID[id] = u
	return nil
}
