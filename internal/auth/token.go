package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSessionTTL はセッショントークンの有効期間です。更新の仕組みはありません。
const DefaultSessionTTL = time.Hour

// 検証失敗の種類です。どれもリクエスト単位で失敗するだけで、プロセスには影響しません。
var (
	ErrTokenMissing   = errors.New("token missing")
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenExpired   = errors.New("token expired")
)

// Claims はセッショントークンに載せるクレームです。
// iat / exp は RegisteredClaims 側で表現します。
type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenManager はセッショントークンの発行と検証を行います。
// 署名鍵は起動時に一度だけ渡され、ログには出しません。
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager は TokenManager を作成します。秘密鍵が空の場合はエラーです。
func NewTokenManager(secret string, ttl time.Duration) (*TokenManager, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &TokenManager{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// TTL はトークンの有効期間を返します。
func (m *TokenManager) TTL() time.Duration {
	return m.ttl
}

// Issue は user に対するトークンを発行します。exp は常に iat + TTL です。
func (m *TokenManager) Issue(user *User) (string, *Claims, error) {
	if user == nil || user.ID == "" {
		return "", nil, errors.New("user is required")
	}
	issuedAt := jwt.NewNumericDate(m.now())
	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  issuedAt,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(m.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify はトークン文字列を検証し、クレームか失敗の種類を返します。
// I/O は行いません。HS256 以外のアルゴリズムは受け付けません。
func (m *TokenManager) Verify(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrTokenMissing
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: userId claim is missing", ErrTokenMalformed)
	}
	return claims, nil
}
