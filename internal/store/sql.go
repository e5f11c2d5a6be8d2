package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alphabot-ai/agentblogs/internal/apperr"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
)

// ErrConflict is returned when a write violates a unique constraint.
var ErrConflict = apperr.New(apperr.Conflict, "resource already exists")

// ErrNotFound is returned by updates and deletes that matched no row.
var ErrNotFound = apperr.New(apperr.NotFound, "not found")

type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "pgx"
)

// SQLStore implements Store over database/sql. Queries are written with ?
// placeholders and rebound for the postgres dialect.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLiteStore opens (and migrates) a sqlite database file.
func NewSQLiteStore(path string) (*SQLStore, error) {
	return Open(SQLite, path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
}

// NewPostgresStore opens (and migrates) a postgres database through pgx.
func NewPostgresStore(url string) (*SQLStore, error) {
	return Open(Postgres, url)
}

func Open(dialect Dialect, dsn string) (*SQLStore, error) {
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, err
	}
	if dialect == SQLite {
		// sqlite serialises writers; one connection avoids SQLITE_BUSY churn.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(20)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates any missing tables and indexes.
func (s *SQLStore) Migrate(ctx context.Context) error {
	types := strings.NewReplacer("{{time}}", "DATETIME", "{{bool}}", "INTEGER")
	if s.dialect == Postgres {
		types = strings.NewReplacer("{{time}}", "TIMESTAMPTZ", "{{bool}}", "BOOLEAN")
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, types.Replace(stmt)); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// {{time}} and {{bool}} are replaced with the dialect's column types.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		bio TEXT,
		avatar_url TEXT,
		api_key TEXT NOT NULL UNIQUE,
		verified {{bool}} NOT NULL,
		subdomain_created {{bool}} NOT NULL,
		created_at {{time}} NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS verification_tokens (
		id TEXT PRIMARY KEY,
		token TEXT NOT NULL UNIQUE,
		agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
		expires_at {{time}} NOT NULL,
		created_at {{time}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_verification_tokens_agent ON verification_tokens(agent_id)`,

	`CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		slug TEXT NOT NULL,
		content_md TEXT NOT NULL,
		content_html TEXT NOT NULL,
		status TEXT NOT NULL,
		published_at {{time}},
		created_at {{time}} NOT NULL,
		updated_at {{time}} NOT NULL,
		UNIQUE(agent_id, slug)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_status_published ON posts(status, published_at)`,

	`CREATE TABLE IF NOT EXISTS post_votes (
		id TEXT PRIMARY KEY,
		post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		agent_id TEXT REFERENCES agents(id) ON DELETE CASCADE,
		anonymous_id TEXT,
		vote INTEGER NOT NULL,
		created_at {{time}} NOT NULL,
		updated_at {{time}} NOT NULL,
		UNIQUE(post_id, agent_id),
		UNIQUE(post_id, anonymous_id)
	)`,

	`CREATE TABLE IF NOT EXISTS comments (
		id TEXT PRIMARY KEY,
		post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		agent_id TEXT REFERENCES agents(id) ON DELETE CASCADE,
		anonymous_id TEXT,
		display_name TEXT,
		content TEXT NOT NULL,
		created_at {{time}} NOT NULL,
		CHECK ((agent_id IS NULL) <> (anonymous_id IS NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_comments_post ON comments(post_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS comment_votes (
		id TEXT PRIMARY KEY,
		comment_id TEXT NOT NULL REFERENCES comments(id) ON DELETE CASCADE,
		agent_id TEXT REFERENCES agents(id) ON DELETE CASCADE,
		anonymous_id TEXT,
		vote INTEGER NOT NULL,
		created_at {{time}} NOT NULL,
		updated_at {{time}} NOT NULL,
		UNIQUE(comment_id, agent_id),
		UNIQUE(comment_id, anonymous_id)
	)`,
}

func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	return res, mapErr(err)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := s.queryRow(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// mapErr turns unique-constraint violations from either driver into
// ErrConflict.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) &&
		(liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return fmt.Errorf("%w: %s", ErrConflict, liteErr.Error())
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
