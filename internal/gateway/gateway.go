// Package gateway はすべてのリクエストの前段でアクセス可否を決めます。
//
// 判定は Decide に集約し、gin のミドルウェアは判定結果をレスポンスに反映するだけです。
// 副作用はレート制限カウンタの更新のみです。
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/voyage-cms/internal/auth"
	"github.com/yourusername/voyage-cms/internal/ratelimit"
)

const (
	// DefaultLoginPath はログイン画面のパスです。
	DefaultLoginPath = "/fonok"
	// DefaultRootTarget は / のリダイレクト先 (既定言語) です。
	DefaultRootTarget = "/en"
)

// Verifier はセッショントークンを検証します。
type Verifier interface {
	Verify(raw string) (*auth.Claims, error)
}

// Limiter はキーごとに 1 回分を消費します。
type Limiter interface {
	Consume(ctx context.Context, key string) (ratelimit.Result, error)
}

// Action は判定の種類です。
type Action int

const (
	ActionAllow Action = iota
	ActionRedirect
	ActionReject
)

func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionRedirect:
		return "redirect"
	case ActionReject:
		return "reject"
	default:
		return "unknown"
	}
}

// Decision は 1 リクエスト分の判定結果です。
type Decision struct {
	Action Action
	Rule   Rule
	// Status は Redirect と Reject のときの HTTP ステータスです。
	Status   int
	Location string
	// Err は Reject の本文、または Redirect の理由です。
	Err *auth.Error
	// ClearCookie は古いクッキーを消してからリダイレクトすることを表します。
	ClearCookie bool
	// Rate はレート制限を評価した場合の結果です。
	Rate *ratelimit.Result
	// Claims は保護ルートで検証に成功したときのクレームです。
	Claims *auth.Claims
}

// Config は Gateway の設定です。
type Config struct {
	Policy   *Policy
	Verifier Verifier
	// General は静的ファイル以外のすべてのリクエストに IP 単位で適用します。
	General Limiter
	// Sensitive は Sensitive なルールへの POST に IP 単位で追加適用します。nil なら無効です。
	Sensitive  Limiter
	Cookie     auth.CookieConfig
	LoginPath  string
	RootTarget string
	Logger     *slog.Logger
}

// Gateway はルート区分、レート制限、セッション検証を組み合わせます。
type Gateway struct {
	policy     *Policy
	verifier   Verifier
	general    Limiter
	sensitive  Limiter
	cookie     auth.CookieConfig
	loginPath  string
	rootTarget string
	logger     *slog.Logger
}

// New は Gateway を作成します。
func New(cfg Config) (*Gateway, error) {
	if cfg.Verifier == nil {
		return nil, errors.New("gateway: verifier is required")
	}
	if cfg.General == nil {
		return nil, errors.New("gateway: general limiter is required")
	}
	g := &Gateway{
		policy:     cfg.Policy,
		verifier:   cfg.Verifier,
		general:    cfg.General,
		sensitive:  cfg.Sensitive,
		cookie:     cfg.Cookie,
		loginPath:  cfg.LoginPath,
		rootTarget: cfg.RootTarget,
		logger:     cfg.Logger,
	}
	if g.policy == nil {
		g.policy = DefaultPolicy()
	}
	if g.loginPath == "" {
		g.loginPath = DefaultLoginPath
	}
	if g.rootTarget == "" {
		g.rootTarget = DefaultRootTarget
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g, nil
}

// Decide はリクエストに対する判定を返します。clientIP はレート制限のキーです。
//
// 評価順は静的ファイル、ルートリダイレクト、レート制限、公開ルート、セッション検証です。
func (g *Gateway) Decide(r *http.Request, clientIP string) Decision {
	ctx := r.Context()
	rule := g.policy.Classify(r.URL.Path)

	switch rule.Level {
	case LevelStatic:
		return Decision{Action: ActionAllow, Rule: rule}
	case LevelRoot:
		return Decision{
			Action:   ActionRedirect,
			Rule:     rule,
			Status:   http.StatusTemporaryRedirect,
			Location: g.rootTarget,
		}
	}

	res, err := g.general.Consume(ctx, clientIP)
	if d, done := g.limitDecision(ctx, r, clientIP, rule, res, err, auth.ErrTooManyRequests); done {
		return d
	}
	rate := &res

	if rule.Sensitive && r.Method == http.MethodPost && g.sensitive != nil {
		sres, err := g.sensitive.Consume(ctx, clientIP)
		if d, done := g.limitDecision(ctx, r, clientIP, rule, sres, err, auth.ErrTooManyAttempts); done {
			return d
		}
		rate = &sres
	}

	if !rule.Level.Protected() {
		return Decision{Action: ActionAllow, Rule: rule, Rate: rate}
	}

	token := auth.SessionToken(r)
	claims, err := g.verifier.Verify(token)
	if err == nil {
		return Decision{Action: ActionAllow, Rule: rule, Rate: rate, Claims: claims}
	}

	missing := errors.Is(err, auth.ErrTokenMissing)
	apiErr := auth.ErrInvalidSession
	if missing {
		apiErr = auth.ErrAuthenticationRequired
	} else {
		g.logger.WarnContext(ctx, "session token rejected",
			"ip", clientIP,
			"path", r.URL.Path,
			"reason", tokenFailureReason(err),
		)
	}

	if rule.Level == LevelProtectedAPI {
		return Decision{
			Action: ActionReject,
			Rule:   rule,
			Status: apiErr.Status(),
			Err:    apiErr,
			Rate:   rate,
		}
	}
	return Decision{
		Action:      ActionRedirect,
		Rule:        rule,
		Status:      http.StatusTemporaryRedirect,
		Location:    g.loginPath,
		Err:         apiErr,
		ClearCookie: !missing,
		Rate:        rate,
	}
}

// limitDecision はレート制限の結果を判定に変換します。done が false なら続行します。
// ページへの 429 もリダイレクトせず JSON で返します。
func (g *Gateway) limitDecision(ctx context.Context, r *http.Request, clientIP string, rule Rule, res ratelimit.Result, err error, denied *auth.Error) (Decision, bool) {
	if err != nil {
		g.logger.ErrorContext(ctx, "rate limiter failed", "ip", clientIP, "path", r.URL.Path, "error", err)
		return Decision{
			Action: ActionReject,
			Rule:   rule,
			Status: auth.ErrLimiterUnavailable.Status(),
			Err:    auth.ErrLimiterUnavailable,
		}, true
	}
	if res.Allowed {
		return Decision{}, false
	}
	g.logger.WarnContext(ctx, "rate limit exceeded",
		"ip", clientIP,
		"path", r.URL.Path,
		"reason", denied.Code,
		"retry_after", ratelimit.RetryAfterSeconds(res),
	)
	return Decision{
		Action: ActionReject,
		Rule:   rule,
		Status: denied.Status(),
		Err:    denied,
		Rate:   &res,
	}, true
}

// Middleware は Decide の結果を gin のレスポンスに反映します。
func (g *Gateway) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		d := g.Decide(c.Request, c.ClientIP())
		if d.Rate != nil {
			ratelimit.SetHeaders(c.Writer.Header(), *d.Rate)
		}

		switch d.Action {
		case ActionAllow:
			if d.Claims != nil {
				auth.SetClaims(c, d.Claims)
			}
			c.Next()
		case ActionRedirect:
			if d.ClearCookie {
				g.cookie.Clear(c.Writer)
			}
			c.Redirect(d.Status, d.Location)
			c.Abort()
		default:
			c.AbortWithStatusJSON(d.Status, auth.ErrorBody(d.Err))
		}
	}
}

func tokenFailureReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return "expired"
	case errors.Is(err, auth.ErrTokenMalformed):
		return "malformed"
	default:
		return "invalid"
	}
}
