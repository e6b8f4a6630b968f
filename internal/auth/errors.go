package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind は認証まわりのエラー分類です。
type Kind int

const (
	KindServerError Kind = iota
	KindValidation
	KindInvalidCredentials
	KindAuthenticationRequired
	KindInvalidToken
	KindIncorrectPassword
	KindRateLimited
	KindNotFound
	KindUnavailable
)

// Error は API レスポンスに変換できるエラーです。
// Err は内部原因でログにのみ出力し、レスポンスには含めません。
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status は HTTP ステータスコードを返します。
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation, KindIncorrectPassword:
		return http.StatusBadRequest
	case KindInvalidCredentials, KindAuthenticationRequired, KindInvalidToken:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newError(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// NewValidationError は入力不備のエラーを作成します。
func NewValidationError(message string) *Error {
	return newError(KindValidation, "INVALID_INPUT", message, nil)
}

// NewServerError は内部エラーを包みます。メッセージは常に汎用のものです。
func NewServerError(err error) *Error {
	return newError(KindServerError, "INTERNAL_ERROR", "サーバー内部でエラーが発生しました", err)
}

// 利用者に返すメッセージは固定です。ユーザー名の存在有無で変えてはいけません。
var (
	ErrInvalidCredentials     = newError(KindInvalidCredentials, "INVALID_CREDENTIALS", "ユーザー名またはパスワードが正しくありません", nil)
	ErrAuthenticationRequired = newError(KindAuthenticationRequired, "AUTHENTICATION_REQUIRED", "ログインが必要です", nil)
	ErrInvalidSession         = newError(KindInvalidToken, "INVALID_TOKEN", "セッションが無効か有効期限が切れています", nil)
	ErrIncorrectPassword      = newError(KindIncorrectPassword, "INCORRECT_PASSWORD", "現在のパスワードが正しくありません", nil)
	ErrUserGone               = newError(KindNotFound, "USER_NOT_FOUND", "ユーザーが見つかりません", nil)
	ErrTooManyAttempts        = newError(KindRateLimited, "TOO_MANY_ATTEMPTS", "一定時間後に再度お試しください", nil)
	ErrTooManyRequests        = newError(KindRateLimited, "TOO_MANY_REQUESTS", "リクエストが多すぎます。しばらくしてから再度お試しください", nil)
	ErrLimiterUnavailable     = newError(KindUnavailable, "RATE_LIMIT_UNAVAILABLE", "しばらくしてから再度お試しください", nil)
)

// AsError は err を *Error に変換します。該当しない場合は ServerError として扱います。
func AsError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return NewServerError(err)
}
