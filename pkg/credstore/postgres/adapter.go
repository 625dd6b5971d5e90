package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/porthorian/procureauth/pkg/credstore"
)

const (
	putCredentialQuery = `
INSERT INTO procureauth.credential (
  namespace, payload, expires_at, updated_at
) VALUES ($1, $2, $3, $4)
ON CONFLICT (namespace) DO UPDATE
SET
  payload = EXCLUDED.payload,
  expires_at = EXCLUDED.expires_at,
  updated_at = EXCLUDED.updated_at
`

	getCredentialQuery = `
SELECT payload
FROM procureauth.credential
WHERE namespace = $1
  AND (expires_at IS NULL OR expires_at > $2)
`

	deleteCredentialQuery = `DELETE FROM procureauth.credential WHERE namespace = $1`
)

type Adapter struct {
	db  *sql.DB
	now func() time.Time

	stmts preparedStatements
}

type preparedStatements struct {
	putCredential    *sql.Stmt
	getCredential    *sql.Stmt
	deleteCredential *sql.Stmt
}

type prepareStatementSpec struct {
	label  string
	query  string
	assign func(*preparedStatements, *sql.Stmt)
}

var prepareStatementSpecs = []prepareStatementSpec{
	{
		label: "put credential",
		query: putCredentialQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.putCredential = stmt
		},
	},
	{
		label: "get credential",
		query: getCredentialQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.getCredential = stmt
		},
	},
	{
		label: "delete credential",
		query: deleteCredentialQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.deleteCredential = stmt
		},
	},
}

var (
	ErrNilDB                 = errors.New("postgres credstore: db is nil")
	ErrAdapterNotInitialized = errors.New("postgres credstore: adapter not initialized")
)

var _ credstore.Backend = (*Adapter)(nil)

// NewAdapter prepares its statements against db. The schema must already be
// migrated (see `procureauth migrate up`).
func NewAdapter(db *sql.DB) (*Adapter, error) {
	adapter := &Adapter{
		db:  db,
		now: time.Now,
	}

	if err := adapter.prepareStatements(); err != nil {
		_ = adapter.closeStatements()
		return nil, err
	}

	return adapter, nil
}

func (a *Adapter) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return credstore.ErrEmptyKey
	}
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	now := a.now().UTC()
	var expiresAt *time.Time
	if ttl > 0 {
		exp := now.Add(ttl)
		expiresAt = &exp
	}

	if _, err := a.stmts.putCredential.ExecContext(ctx, key, value, expiresAt, now); err != nil {
		return fmt.Errorf("postgres credstore: put: %w", err)
	}
	return nil
}

func (a *Adapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return nil, false, err
	}

	var payload []byte
	err := a.stmts.getCredential.QueryRowContext(ctx, key, a.now().UTC()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres credstore: get: %w", err)
	}
	return payload, true, nil
}

func (a *Adapter) Delete(ctx context.Context, key string) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}
	if _, err := a.stmts.deleteCredential.ExecContext(ctx, key); err != nil {
		return fmt.Errorf("postgres credstore: delete: %w", err)
	}
	return nil
}

// Close releases prepared statements. The *sql.DB belongs to the caller.
func (a *Adapter) Close() error {
	if a == nil {
		return nil
	}
	return a.closeStatements()
}

func (a *Adapter) prepareStatements() error {
	db, err := a.requireDB()
	if err != nil {
		return err
	}

	for _, spec := range prepareStatementSpecs {
		stmt, prepErr := db.Prepare(spec.query)
		if prepErr != nil {
			return fmt.Errorf("postgres credstore: prepare %s statement: %w", spec.label, prepErr)
		}
		spec.assign(&a.stmts, stmt)
	}
	return nil
}

func (a *Adapter) requirePreparedStatements() error {
	if _, err := a.requireDB(); err != nil {
		return err
	}
	if a.stmts.putCredential == nil || a.stmts.getCredential == nil || a.stmts.deleteCredential == nil {
		return ErrAdapterNotInitialized
	}
	return nil
}

func (a *Adapter) requireDB() (*sql.DB, error) {
	if a == nil || a.db == nil {
		return nil, ErrNilDB
	}
	return a.db, nil
}

func (a *Adapter) closeStatements() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{a.stmts.putCredential, a.stmts.getCredential, a.stmts.deleteCredential} {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.stmts = preparedStatements{}
	return errors.Join(errs...)
}
