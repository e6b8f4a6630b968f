package auth

import (
	"context"
	"errors"
)

// ErrUserNotFound はストアに該当ユーザーがいない場合に返されます。
var ErrUserNotFound = errors.New("user not found")

// User は管理画面にログインできる唯一の主体です。
type User struct {
	ID                  string
	Username            string
	PasswordHash        string
	ForcePasswordChange bool
}

// PublicUser はレスポンスに載せてよい User の射影です。ハッシュは含みません。
type PublicUser struct {
	ID                  string `json:"id"`
	Username            string `json:"username"`
	ForcePasswordChange bool   `json:"forcePasswordChange"`
}

// Public は User の公開用表現を返します。
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:                  u.ID,
		Username:            u.Username,
		ForcePasswordChange: u.ForcePasswordChange,
	}
}

// UserStore は認証情報ドキュメントの保存先です。
// 見つからない場合 FindBy* は ErrUserNotFound を返します。
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, forcePasswordChange bool) error
}
