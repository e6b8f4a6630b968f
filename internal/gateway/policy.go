package gateway

import (
	"path"
	"strings"
)

// Level はパスのアクセス区分です。
type Level int

const (
	// LevelPublic は無条件で通します。
	LevelPublic Level = iota
	// LevelStatic は静的ファイルです。レート制限も行いません。
	LevelStatic
	// LevelRoot は既定言語へのリダイレクト対象です。
	LevelRoot
	// LevelProtectedPage はセッションが無ければログイン画面へリダイレクトします。
	LevelProtectedPage
	// LevelProtectedAPI はセッションが無ければ 401 JSON を返します。
	LevelProtectedAPI
)

func (l Level) String() string {
	switch l {
	case LevelPublic:
		return "public"
	case LevelStatic:
		return "static"
	case LevelRoot:
		return "root"
	case LevelProtectedPage:
		return "protected-page"
	case LevelProtectedAPI:
		return "protected-api"
	default:
		return "unknown"
	}
}

// Protected はセッションが必要な区分かどうかを返します。
func (l Level) Protected() bool {
	return l == LevelProtectedPage || l == LevelProtectedAPI
}

// Rule はパス区分表の一行です。
type Rule struct {
	// Pattern は先頭一致のプレフィックスです。Exact のときは完全一致です。
	// プレフィックスはセグメント単位で比較し、/api/cms は /api/cmsx に一致しません。
	Pattern string
	Exact   bool
	Level   Level
	// Sensitive はログインのような総当たり対象です。POST に厳しいレート制限を追加します。
	Sensitive bool
}

func (r Rule) matches(p string) bool {
	if r.Exact {
		return p == r.Pattern
	}
	if r.Pattern == "/" {
		return true
	}
	return p == r.Pattern || strings.HasPrefix(p, r.Pattern+"/")
}

// Policy は上から順に評価し、最初に一致した Rule を採用します。
type Policy struct {
	rules    []Rule
	fallback Rule
}

// NewPolicy は Policy を作成します。どれにも一致しないパスは fallback の区分になります。
func NewPolicy(rules []Rule, fallback Level) *Policy {
	copied := make([]Rule, len(rules))
	copy(copied, rules)
	return &Policy{
		rules:    copied,
		fallback: Rule{Pattern: "/", Level: fallback},
	}
}

// DefaultPolicy は CMS の既定の区分表です。
func DefaultPolicy() *Policy {
	return NewPolicy([]Rule{
		{Pattern: "/_next/static", Level: LevelStatic},
		{Pattern: "/static", Level: LevelStatic},
		{Pattern: "/uploads", Level: LevelStatic},
		{Pattern: "/favicon.ico", Exact: true, Level: LevelStatic},
		{Pattern: "/robots.txt", Exact: true, Level: LevelStatic},
		{Pattern: "/health", Exact: true, Level: LevelStatic},
		{Pattern: "/", Exact: true, Level: LevelRoot},

		{Pattern: "/api/cms", Level: LevelProtectedAPI},
		{Pattern: "/api/auth/change-password", Exact: true, Level: LevelProtectedAPI},
		{Pattern: "/api/auth/me", Exact: true, Level: LevelProtectedAPI},
		{Pattern: "/api/uploads", Level: LevelProtectedAPI},

		{Pattern: "/api/auth/login", Exact: true, Level: LevelPublic, Sensitive: true},
		{Pattern: "/api/auth/forgot-password", Exact: true, Level: LevelPublic, Sensitive: true},
		{Pattern: "/fonok", Exact: true, Level: LevelPublic},
		{Pattern: "/fonok/password", Exact: true, Level: LevelPublic},
		{Pattern: "/fonok", Level: LevelProtectedPage},
	}, LevelPublic)
}

// Classify はパスを正規化してから区分表を引きます。
// gin のルーティングと同じく大文字小文字は区別します。末尾のスラッシュは取り除くため、
// /fonok/ はログイン画面 /fonok と同じ区分になります。
func (p *Policy) Classify(rawPath string) Rule {
	cleaned := CleanPath(rawPath)
	for _, r := range p.rules {
		if r.matches(cleaned) {
			return r
		}
	}
	return p.fallback
}

// CleanPath は "." や ".." を解決した絶対パスを返します。
func CleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
