package auth

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
)

// ContextUserKey は、ハンドラー間で検証済みのクレームを共有するためのキーです。
const ContextUserKey = "auth.user"

type claimsKey struct{}

// WithClaims は ctx に検証済みクレームを載せます。
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext は WithClaims で載せたクレームを取り出します。
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok && claims != nil
}

// ClaimsFromGin は gin のコンテキスト、次にリクエストのコンテキストからクレームを探します。
func ClaimsFromGin(c *gin.Context) (*Claims, bool) {
	if v, ok := c.Get(ContextUserKey); ok {
		if claims, ok := v.(*Claims); ok && claims != nil {
			return claims, true
		}
	}
	return ClaimsFromContext(c.Request.Context())
}

// SetClaims は gin とリクエストの両方のコンテキストにクレームを設定します。
func SetClaims(c *gin.Context, claims *Claims) {
	c.Set(ContextUserKey, claims)
	c.Request = c.Request.WithContext(WithClaims(c.Request.Context(), claims))
}

// RequireSession はセッションを検証するミドルウェアを返します。
// ゲートウェイで検証済みならそのまま通し、そうでなければクッキーを自前で検証します。
func (h *Handler) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := ClaimsFromGin(c); ok {
			c.Next()
			return
		}

		claims, err := h.manager.Tokens().Verify(SessionToken(c.Request))
		if err != nil {
			apiErr := ErrInvalidSession
			if errors.Is(err, ErrTokenMissing) {
				apiErr = ErrAuthenticationRequired
			}
			h.abortWithError(c, apiErr)
			return
		}
		SetClaims(c, claims)
		c.Next()
	}
}
