package userstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/yourusername/voyage-cms/internal/auth"
	"github.com/yourusername/voyage-cms/internal/userstore/migrations"
)

// uniqueViolation は PostgreSQL の一意制約違反コードです。
const uniqueViolation = "23505"

// Open は pgx ドライバーで接続し、疎通を確認します。
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("database url is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// gooseUp はテストで差し替えられるようにしています。
var gooseUp = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate は埋め込み済みのマイグレーションを適用します。
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := gooseUp(ctx, db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// PostgresStore は admin_users テーブルを使う auth.UserStore です。
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore は PostgresStore を作成します。スキーマは Migrate で用意してください。
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	return &PostgresStore{db: db}, nil
}

const selectUser = `SELECT id, username, password_hash, force_password_change FROM admin_users`

// FindByUsername は auth.UserStore を満たします。
func (s *PostgresStore) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	if username == "" {
		return nil, auth.ErrUserNotFound
	}
	return s.queryOne(ctx, selectUser+` WHERE username = $1`, username)
}

// FindByID は auth.UserStore を満たします。
func (s *PostgresStore) FindByID(ctx context.Context, id string) (*auth.User, error) {
	if id == "" {
		return nil, auth.ErrUserNotFound
	}
	return s.queryOne(ctx, selectUser+` WHERE id = $1`, id)
}

func (s *PostgresStore) queryOne(ctx context.Context, query string, arg string) (*auth.User, error) {
	var u auth.User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.ForcePasswordChange)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrUserNotFound
		}
		return nil, fmt.Errorf("query admin user: %w", err)
	}
	return &u, nil
}

// UpdatePassword は auth.UserStore を満たします。
func (s *PostgresStore) UpdatePassword(ctx context.Context, id, passwordHash string, forcePasswordChange bool) error {
	const q = `
UPDATE admin_users
SET password_hash = $2,
	force_password_change = $3,
	updated_at = NOW()
WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, id, passwordHash, forcePasswordChange)
	if err != nil {
		return fmt.Errorf("update admin user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

// Create は auth.UserCreator を満たします。
func (s *PostgresStore) Create(ctx context.Context, user *auth.User) error {
	if user == nil || user.ID == "" || user.Username == "" || user.PasswordHash == "" {
		return errors.New("id, username, and password hash are required")
	}
	const q = `
INSERT INTO admin_users (id, username, password_hash, force_password_change)
VALUES ($1, $2, $3, $4)`
	if _, err := s.db.ExecContext(ctx, q, user.ID, user.Username, user.PasswordHash, user.ForcePasswordChange); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return auth.ErrUsernameTaken
		}
		return fmt.Errorf("insert admin user: %w", err)
	}
	return nil
}
