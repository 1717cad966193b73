package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/captchad/captchad/internal/model"
)

// Store persists API tokens in SQLite. It is the single source of truth for
// token records and usage counts; the in-memory cache mirrors it.
type Store struct {
	db *sqlx.DB
}

// New creates a token store. Pass empty string for in-memory (tests). When
// backed by a file, the data directory and database file are restricted to
// the owner because they hold raw token secrets.
func New(dataDir string) (*Store, error) {
	var dsn string
	var dbPath string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dbPath = filepath.Join(dataDir, "captchad.db")
		dsn = dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open token database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate token database: %w", err)
	}

	if dbPath != "" {
		// The file exists after migration at the latest.
		if err := os.Chmod(dbPath, 0600); err != nil {
			return nil, fmt.Errorf("restrict token database permissions: %w", err)
		}
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new token record. The ID, CreatedAt, and UpdatedAt fields
// on tok are populated after a successful insert; both timestamps are equal
// at creation.
func (s *Store) Create(ctx context.Context, tok *model.Token) error {
	now := time.Now().UTC()
	tok.CreatedAt = now
	tok.UpdatedAt = now

	const q = `INSERT INTO tokens
		(token, name, minute_limit, hour_limit, usage_count, created_at, updated_at)
		VALUES
		(:token, :name, :minute_limit, :hour_limit, :usage_count, :created_at, :updated_at)`

	result, err := s.db.NamedExecContext(ctx, q, tok)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get token id: %w", err)
	}
	tok.ID = id
	return nil
}

// Get returns a token by ID.
func (s *Store) Get(ctx context.Context, id int64) (*model.Token, error) {
	var tok model.Token
	if err := s.db.GetContext(ctx, &tok, "SELECT * FROM tokens WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	return &tok, nil
}

// GetByValue returns a token by its unique secret value.
func (s *Store) GetByValue(ctx context.Context, value string) (*model.Token, error) {
	var tok model.Token
	if err := s.db.GetContext(ctx, &tok, "SELECT * FROM tokens WHERE token = ?", value); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get token by value: %w", err)
	}
	return &tok, nil
}

// List returns all tokens ordered by ID ascending.
func (s *Store) List(ctx context.Context) ([]model.Token, error) {
	var tokens []model.Token
	if err := s.db.SelectContext(ctx, &tokens, "SELECT * FROM tokens ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return tokens, nil
}

// Update replaces the mutable fields of an existing token record and stamps a
// new updated_at. Callers resolve partial updates against the current record
// before calling.
func (s *Store) Update(ctx context.Context, tok *model.Token) error {
	tok.UpdatedAt = time.Now().UTC()

	const q = `UPDATE tokens SET
		token = :token, name = :name, minute_limit = :minute_limit,
		hour_limit = :hour_limit, updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, tok)
	if err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update token rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a token record by ID.
func (s *Store) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM tokens WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete token rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementUsage adds delta to a token's usage count, keyed by secret value.
// The additive form avoids lost updates when several flushers race. A missing
// row (token deleted since the delta was queued) is not an error.
func (s *Store) IncrementUsage(ctx context.Context, value string, delta int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE tokens SET usage_count = usage_count + ? WHERE token = ?", delta, value)
	if err != nil {
		return fmt.Errorf("increment token usage: %w", err)
	}
	return nil
}

// ResetUsage zeroes a token's usage count by ID.
func (s *Store) ResetUsage(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE tokens SET usage_count = 0 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("reset token usage: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reset token usage rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of stored tokens.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM tokens"); err != nil {
		return 0, fmt.Errorf("count tokens: %w", err)
	}
	return count, nil
}
