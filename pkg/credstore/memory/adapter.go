package memory

import (
	"context"
	"sync"
	"time"

	"github.com/porthorian/procureauth/pkg/credstore"
)

type entry struct {
	value   []byte
	expires time.Time
}

// Adapter keeps records in process memory. Values are copied on the way in
// and out so callers never share a backing array with the store.
type Adapter struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time

	// FailPut, when set, is returned by every Put. Used to simulate a broken disk.
	FailPut error
}

var _ credstore.Backend = (*Adapter)(nil)

func NewAdapter() *Adapter {
	return &Adapter{
		entries: map[string]entry{},
		now:     time.Now,
	}
}

func (a *Adapter) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return credstore.ErrEmptyKey
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.FailPut != nil {
		return a.FailPut
	}

	e := entry{value: cloneBytes(value)}
	if ttl > 0 {
		e.expires = a.now().UTC().Add(ttl)
	}
	a.entries[key] = e
	return nil
}

func (a *Adapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	now := a.now().UTC()

	a.mu.RLock()
	e, ok := a.entries[key]
	a.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if !e.expires.IsZero() && now.After(e.expires) {
		a.mu.Lock()
		delete(a.entries, key)
		a.mu.Unlock()
		return nil, false, nil
	}

	return cloneBytes(e.value), true, nil
}

func (a *Adapter) Delete(ctx context.Context, key string) error {
	a.mu.Lock()
	delete(a.entries, key)
	a.mu.Unlock()
	return nil
}

// Set writes raw bytes under key, bypassing any codec. Tests use it to plant
// corrupt data.
func (a *Adapter) Set(key string, value []byte) {
	a.mu.Lock()
	a.entries[key] = entry{value: cloneBytes(value)}
	a.mu.Unlock()
}

func (a *Adapter) Close() error {
	return nil
}

func cloneBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
