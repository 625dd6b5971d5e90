package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/porthorian/procureauth/pkg/credstore"
)

// Adapter persists the session record in a local SQLite file. It is the
// default backend for the CLI because it survives process restarts without a
// server.
type Adapter struct {
	db  *sql.DB
	now func() time.Time
}

var _ credstore.Backend = (*Adapter)(nil)

// Open opens (or creates) a SQLite database at path and migrates its schema.
func Open(path string) (*Adapter, error) {
	if path == "" {
		return nil, errors.New("sqlite credstore: path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open credential db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS credential (
		namespace  TEXT PRIMARY KEY,
		payload    BLOB NOT NULL,
		expires_at TEXT,
		updated_at TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create credential table: %w", err)
	}

	return &Adapter{db: db, now: time.Now}, nil
}

func (a *Adapter) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return credstore.ErrEmptyKey
	}

	now := a.now().UTC()
	var expiresAt sql.NullString
	if ttl > 0 {
		expiresAt = sql.NullString{String: now.Add(ttl).Format(time.RFC3339Nano), Valid: true}
	}

	_, err := a.db.ExecContext(ctx, `INSERT INTO credential (namespace, payload, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace) DO UPDATE SET
			payload = excluded.payload,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		key, value, expiresAt, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (a *Adapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		payload   []byte
		expiresAt sql.NullString
	)
	err := a.db.QueryRowContext(ctx, `SELECT payload, expires_at FROM credential WHERE namespace = ?`, key).
		Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load credential: %w", err)
	}

	if expiresAt.Valid {
		exp, parseErr := time.Parse(time.RFC3339Nano, expiresAt.String)
		if parseErr == nil && !a.now().UTC().Before(exp) {
			_, _ = a.db.ExecContext(ctx, `DELETE FROM credential WHERE namespace = ?`, key)
			return nil, false, nil
		}
	}

	return payload, true, nil
}

func (a *Adapter) Delete(ctx context.Context, key string) error {
	if _, err := a.db.ExecContext(ctx, `DELETE FROM credential WHERE namespace = ?`, key); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

func (a *Adapter) Close() error {
	return a.db.Close()
}
