// Package auth は管理者アカウントの認証、セッショントークン、パスワード変更を提供します。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultMinPasswordLength は新しいパスワードの最小文字数です。
	DefaultMinPasswordLength = 6
	// bcrypt は 72 バイトを超える入力を扱えません。
	maxPasswordBytes = 72
)

// ErrResetDisabled はパスワードリセットが設定で無効化されている場合に返されます。
var ErrResetDisabled = errors.New("password reset is disabled")

// ManagerConfig は Manager の設定です。
type ManagerConfig struct {
	MinPasswordLength int
	BcryptCost        int

	// リセット対象は ADMIN_USERNAME に固定され、開発環境でのみ有効化できます。
	ResetEnabled         bool
	ResetUsername        string
	ResetDefaultPassword string

	Logger *slog.Logger
}

// Manager は認証処理とパスワードのライフサイクルをまとめた構造体です。
// 状態は持たず、複数のリクエストから同時に呼び出せます。
type Manager struct {
	users  UserStore
	tokens *TokenManager
	cfg    ManagerConfig
	logger *slog.Logger

	dummyOnce sync.Once
	dummyHash []byte
}

// Session はログイン成功時の結果です。
type Session struct {
	Token  string
	Claims *Claims
	User   PublicUser
}

// NewManager は認証マネージャーを作成します。
func NewManager(users UserStore, tokens *TokenManager, cfg ManagerConfig) (*Manager, error) {
	if users == nil {
		return nil, errors.New("user store is required")
	}
	if tokens == nil {
		return nil, errors.New("token manager is required")
	}
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = DefaultMinPasswordLength
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.ResetEnabled && (cfg.ResetUsername == "" || cfg.ResetDefaultPassword == "") {
		return nil, errors.New("reset username and default password are required when reset is enabled")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		users:  users,
		tokens: tokens,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Tokens は検証用の TokenManager を返します。
func (m *Manager) Tokens() *TokenManager {
	return m.tokens
}

// HashPassword は password を bcrypt でハッシュ化します。
func (m *Manager) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), m.cfg.BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Login はユーザー名とパスワードを検証し、成功したらセッショントークンを発行します。
// 未登録のユーザー名とパスワード不一致は同じ ErrInvalidCredentials になります。
// forcePasswordChange はここでは変更しません。
func (m *Manager) Login(ctx context.Context, username, password string) (*Session, error) {
	if username == "" || password == "" {
		return nil, NewValidationError("username と password を入力してください")
	}

	user, err := m.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// 応答時間でユーザーの有無が分からないよう、ダミーのハッシュと比較しておく
			_ = bcrypt.CompareHashAndPassword(m.dummy(), []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, NewServerError(fmt.Errorf("find user: %w", err))
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, ErrInvalidCredentials
		}
		return nil, NewServerError(fmt.Errorf("compare password: %w", err))
	}

	token, claims, err := m.tokens.Issue(user)
	if err != nil {
		return nil, NewServerError(err)
	}
	return &Session{
		Token:  token,
		Claims: claims,
		User:   user.Public(),
	}, nil
}

// CurrentUser はトークンの userId からユーザーを取り直します。
func (m *Manager) CurrentUser(ctx context.Context, userID string) (*User, error) {
	user, err := m.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserGone
		}
		return nil, NewServerError(fmt.Errorf("find user: %w", err))
	}
	return user, nil
}

// ChangePassword はパスワードを変更し、forcePasswordChange を false にします。
//
// forcePasswordChange が true の間は現在のパスワードを求めません。
// false の場合は oldPassword が必須で、保存済みハッシュと一致しなければ何も変更しません。
func (m *Manager) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if err := m.validateNewPassword(newPassword); err != nil {
		return err
	}

	user, err := m.CurrentUser(ctx, userID)
	if err != nil {
		return err
	}

	if !user.ForcePasswordChange && oldPassword == "" {
		return NewValidationError("現在のパスワードを入力してください")
	}
	if oldPassword != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(oldPassword)); err != nil {
			if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
				return ErrIncorrectPassword
			}
			return NewServerError(fmt.Errorf("compare password: %w", err))
		}
	}

	hash, err := m.HashPassword(newPassword)
	if err != nil {
		return NewServerError(fmt.Errorf("hash password: %w", err))
	}
	if err := m.users.UpdatePassword(ctx, user.ID, hash, false); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserGone
		}
		return NewServerError(fmt.Errorf("update password: %w", err))
	}

	m.logger.InfoContext(ctx, "password changed", "user_id", user.ID, "forced", user.ForcePasswordChange)
	return nil
}

// ResetPassword は固定ユーザー名のアカウントを既定パスワードに戻し、
// forcePasswordChange を true にします。開発環境専用の機能です。
// 対象外のユーザー名や未登録の場合は何もせず nil を返します。
func (m *Manager) ResetPassword(ctx context.Context, username string) error {
	if !m.cfg.ResetEnabled {
		return ErrResetDisabled
	}
	if username != m.cfg.ResetUsername {
		return nil
	}

	user, err := m.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return fmt.Errorf("find user: %w", err)
	}

	hash, err := m.HashPassword(m.cfg.ResetDefaultPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := m.users.UpdatePassword(ctx, user.ID, hash, true); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	m.logger.WarnContext(ctx, "insecure password reset executed", "user_id", user.ID)
	return nil
}

// RequestReset はリセットをその場で実行します。PasswordResetter を満たします。
func (m *Manager) RequestReset(ctx context.Context, username string) error {
	return m.ResetPassword(ctx, username)
}

func (m *Manager) validateNewPassword(password string) error {
	if utf8.RuneCountInString(password) < m.cfg.MinPasswordLength {
		return NewValidationError(fmt.Sprintf("パスワードは %d 文字以上にしてください", m.cfg.MinPasswordLength))
	}
	if len(password) > maxPasswordBytes {
		return NewValidationError(fmt.Sprintf("パスワードは %d バイト以内にしてください", maxPasswordBytes))
	}
	return nil
}

func (m *Manager) dummy() []byte {
	m.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), m.cfg.BcryptCost)
		if err == nil {
			m.dummyHash = hash
		}
	})
	return m.dummyHash
}
