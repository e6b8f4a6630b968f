package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/voyage-cms/internal/ratelimit"
)

// forgotPasswordMessage はユーザー名の有無や処理結果にかかわらず返す固定文言です。
const forgotPasswordMessage = "パスワードリセットの要求を受け付けました"

// PasswordResetter はリセット要求を処理します。同期実行とキュー投入の両方がこれを満たします。
type PasswordResetter interface {
	RequestReset(ctx context.Context, username string) error
}

// AttemptLimiter はキーごとの試行回数を数えます。
type AttemptLimiter interface {
	Consume(ctx context.Context, key string) (ratelimit.Result, error)
}

// HandlerConfig は Handler の設定です。
type HandlerConfig struct {
	Cookie CookieConfig
	// Resetter が nil の場合は Manager 自身がリセットを実行します。
	Resetter PasswordResetter
	// PasswordChangeLimiter はユーザー ID 単位でパスワード変更の試行を制限します。
	PasswordChangeLimiter AttemptLimiter
	Logger                *slog.Logger
}

// Handler は /api/auth/* の HTTP ハンドラーです。
type Handler struct {
	manager  *Manager
	cookie   CookieConfig
	resetter PasswordResetter
	limiter  AttemptLimiter
	logger   *slog.Logger
}

// NewHandler は Handler を作成します。
func NewHandler(manager *Manager, cfg HandlerConfig) *Handler {
	resetter := cfg.Resetter
	if resetter == nil {
		resetter = manager
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cookie := cfg.Cookie
	if cookie.MaxAge <= 0 {
		cookie.MaxAge = manager.Tokens().TTL()
	}
	return &Handler{
		manager:  manager,
		cookie:   cookie,
		resetter: resetter,
		limiter:  cfg.PasswordChangeLimiter,
		logger:   logger,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login は POST /api/auth/login のハンドラーです。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, NewValidationError("username と password を JSON で送ってください"))
		return
	}

	session, err := h.manager.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			h.logger.WarnContext(c.Request.Context(), "login failed",
				"ip", c.ClientIP(),
				"reason", "invalid_credentials",
			)
		}
		h.writeError(c, err)
		return
	}

	h.cookie.Set(c.Writer, session.Token)
	h.logger.InfoContext(c.Request.Context(), "login succeeded", "user_id", session.User.ID, "ip", c.ClientIP())
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user":    session.User,
	})
}

// Logout は POST /api/auth/logout のハンドラーです。
// サーバー側にセッションは無いため、クッキーを上書きするだけで常に成功します。
func (h *Handler) Logout(c *gin.Context) {
	h.cookie.Clear(c.Writer)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "ログアウトしました",
	})
}

type changePasswordRequest struct {
	OldPassword     string `json:"oldPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

// ChangePassword は POST /api/auth/change-password のハンドラーです。
func (h *Handler) ChangePassword(c *gin.Context) {
	claims, ok := h.sessionClaims(c)
	if !ok {
		return
	}

	if h.limiter != nil {
		res, err := h.limiter.Consume(c.Request.Context(), claims.UserID)
		if err != nil {
			h.logger.ErrorContext(c.Request.Context(), "password change limiter failed", "error", err)
			h.writeError(c, ErrLimiterUnavailable)
			return
		}
		if !res.Allowed {
			ratelimit.SetHeaders(c.Writer.Header(), res)
			h.logger.WarnContext(c.Request.Context(), "password change rate limited", "user_id", claims.UserID)
			h.writeError(c, ErrTooManyAttempts)
			return
		}
	}

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, NewValidationError("newPassword を JSON で送ってください"))
		return
	}
	if req.ConfirmPassword != "" && req.ConfirmPassword != req.NewPassword {
		h.writeError(c, NewValidationError("確認用パスワードが一致しません"))
		return
	}

	if err := h.manager.ChangePassword(c.Request.Context(), claims.UserID, req.OldPassword, req.NewPassword); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "パスワードを更新しました",
	})
}

type forgotPasswordRequest struct {
	Username string `json:"username"`
}

// ForgotPassword は POST /api/auth/forgot-password のハンドラーです。
// ユーザー名の列挙を防ぐため、結果に関係なく同じ 200 レスポンスを返します。
// 内部エラーはログにだけ残します。
func (h *Handler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err == nil && req.Username != "" {
		err := h.resetter.RequestReset(c.Request.Context(), req.Username)
		switch {
		case err == nil:
		case errors.Is(err, ErrResetDisabled):
			h.logger.DebugContext(c.Request.Context(), "password reset requested while disabled", "ip", c.ClientIP())
		default:
			h.logger.ErrorContext(c.Request.Context(), "password reset failed", "ip", c.ClientIP(), "error", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": forgotPasswordMessage,
	})
}

// Me は GET /api/auth/me のハンドラーです。現在のユーザー状態をストアから取り直して返します。
func (h *Handler) Me(c *gin.Context) {
	claims, ok := h.sessionClaims(c)
	if !ok {
		return
	}
	user, err := h.manager.CurrentUser(c.Request.Context(), claims.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"user":      user.Public(),
		"expiresAt": claims.ExpiresAt.Time.UTC(),
	})
}

func (h *Handler) sessionClaims(c *gin.Context) (*Claims, bool) {
	if claims, ok := ClaimsFromGin(c); ok {
		return claims, true
	}
	claims, err := h.manager.Tokens().Verify(SessionToken(c.Request))
	if err != nil {
		if errors.Is(err, ErrTokenMissing) {
			h.writeError(c, ErrAuthenticationRequired)
		} else {
			h.writeError(c, ErrInvalidSession)
		}
		return nil, false
	}
	SetClaims(c, claims)
	return claims, true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	apiErr := AsError(err)
	if apiErr.Kind == KindServerError {
		h.logger.ErrorContext(c.Request.Context(), "auth request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(apiErr.Status(), ErrorBody(apiErr))
}

func (h *Handler) abortWithError(c *gin.Context, err error) {
	apiErr := AsError(err)
	c.AbortWithStatusJSON(apiErr.Status(), ErrorBody(apiErr))
}

// ErrorBody は API エラーの JSON 本文を返します。
func ErrorBody(e *Error) gin.H {
	return gin.H{
		"success": false,
		"code":    e.Code,
		"message": e.Message,
	}
}
