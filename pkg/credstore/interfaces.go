package credstore

import (
	"context"
	"errors"
	"time"
)

const RecordVersion = 1

var (
	ErrCorruptRecord = errors.New("credstore: corrupt session record")
	ErrEmptyKey      = errors.New("credstore: key is required")
)

type ProfileRecord struct {
	Role            string    `json:"role"`
	DisplayName     string    `json:"displayName"`
	Title           string    `json:"title"`
	AuthenticatedAt time.Time `json:"authenticatedAt"`
	Demo            bool      `json:"demo,omitempty"`
}

// Record is the persisted form of a session. Permissions are deliberately
// absent: they are re-derived from Profile.Role on load.
type Record struct {
	Version           int           `json:"version"`
	AccessCredential  string        `json:"accessCredential"`
	IdentityReference string        `json:"identityReference"`
	Profile           ProfileRecord `json:"profile"`
	ExpiresAt         *time.Time    `json:"expiresAt,omitempty"`
	Origin            string        `json:"origin"`
}

// Store persists at most one session record for a namespace.
type Store interface {
	// Save overwrites any prior record. Errors always surface.
	Save(ctx context.Context, record Record) error
	// Load returns nil when nothing usable is stored, including corrupt data.
	// A non-nil error means the backend itself could not be reached.
	Load(ctx context.Context) (*Record, error)
	// Clear is idempotent.
	Clear(ctx context.Context) error
	Close() error
}

// Backend is a byte-oriented key/value store that the concrete adapters
// (memory, sqlite, postgres, redis) implement. ttl <= 0 means no expiry.
type Backend interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

type Codec interface {
	Encode(record Record) ([]byte, error)
	Decode(data []byte) (Record, error)
}
