package auth

import (
	"net/http"
	"time"
)

// SessionCookieName はセッショントークンを運ぶクッキー名です。
const SessionCookieName = "token"

// CookieConfig はセッションクッキーの属性です。
// Secure はローカル開発以外では true にします。
type CookieConfig struct {
	Secure bool
	MaxAge time.Duration
}

// Set はトークンをクッキーに書き込みます。
func (c CookieConfig) Set(w http.ResponseWriter, token string) {
	maxAge := c.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultSessionTTL
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear は空の値と過去の有効期限でクッキーを上書きします。
func (c CookieConfig) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionToken はリクエストのクッキーからトークンを取り出します。無ければ空文字です。
func SessionToken(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}
