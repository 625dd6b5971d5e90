package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"

	"github.com/porthorian/procureauth/pkg/backend"
	"github.com/porthorian/procureauth/pkg/credstore"
	"github.com/porthorian/procureauth/pkg/credstore/memory"
	"github.com/porthorian/procureauth/pkg/identity"
)

type fakeBackend struct {
	mu sync.Mutex

	loginDelegated func(identity.Assertion) (backend.Exchange, error)
	loginDemo      func(role string) (backend.Exchange, error)
	refresh        func(credential string) (backend.Exchange, error)
	logoutErr      error

	// gate, when set, blocks exchange calls until it is closed or the
	// request context ends.
	gate  chan struct{}
	delay time.Duration

	loginCalls   int
	refreshCalls int
	logoutCalls  []string
	inflight     int
	maxInflight  int
	generation   int
}

var _ backend.API = (*fakeBackend)(nil)

func newFakeBackend() *fakeBackend {
	b := &fakeBackend{}
	b.loginDelegated = func(identity.Assertion) (backend.Exchange, error) {
		return backend.Exchange{
			AccessCredential: "cred-1",
			Role:             "auditor",
			Profile:          backend.Profile{DisplayName: "Asha Rao", Title: "Chief Auditor"},
			ExpiresIn:        600,
		}, nil
	}
	b.loginDemo = func(role string) (backend.Exchange, error) {
		return backend.Exchange{
			AccessCredential: "demo-" + role,
			Role:             role,
			Profile:          backend.Profile{Demo: true},
			ExpiresIn:        3600,
		}, nil
	}
	b.refresh = func(string) (backend.Exchange, error) {
		b.generation++
		return backend.Exchange{
			AccessCredential: fmt.Sprintf("cred-r%d", b.generation),
			Role:             "auditor",
			ExpiresIn:        600,
		}, nil
	}
	return b
}

func (b *fakeBackend) enter(ctx context.Context) error {
	b.mu.Lock()
	b.inflight++
	if b.inflight > b.maxInflight {
		b.maxInflight = b.inflight
	}
	gate := b.gate
	delay := b.delay
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}

func (b *fakeBackend) leave() {
	b.mu.Lock()
	b.inflight--
	b.mu.Unlock()
}

func (b *fakeBackend) LoginDelegated(ctx context.Context, assertion identity.Assertion) (backend.Exchange, error) {
	defer b.leave()
	if err := b.enter(ctx); err != nil {
		return backend.Exchange{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loginCalls++
	return b.loginDelegated(assertion)
}

func (b *fakeBackend) LoginDemo(ctx context.Context, role string, _ identity.Assertion) (backend.Exchange, error) {
	defer b.leave()
	if err := b.enter(ctx); err != nil {
		return backend.Exchange{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loginCalls++
	return b.loginDemo(role)
}

func (b *fakeBackend) Refresh(ctx context.Context, credential string) (backend.Exchange, error) {
	defer b.leave()
	if err := b.enter(ctx); err != nil {
		return backend.Exchange{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshCalls++
	return b.refresh(credential)
}

func (b *fakeBackend) Logout(_ context.Context, credential string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logoutCalls = append(b.logoutCalls, credential)
	return b.logoutErr
}

func (b *fakeBackend) Profile(context.Context, string) (backend.Profile, error) {
	return backend.Profile{}, nil
}

func (b *fakeBackend) counts() (login, refresh, logout int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loginCalls, b.refreshCalls, len(b.logoutCalls)
}

type fakeProvider struct {
	mu sync.Mutex

	ensureErr     error
	authenticated bool
	interactive   func(ctx context.Context) (identity.Assertion, error)
	current       identity.Assertion
	currentErr    error
	logoutCalls   int
}

var _ identity.Provider = (*fakeProvider)(nil)

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		interactive: func(context.Context) (identity.Assertion, error) {
			return identity.Assertion{Principal: "user-123", Proof: []byte("id-token")}, nil
		},
		current: identity.Assertion{Principal: "user-123", Proof: []byte("id-token")},
	}
}

func (p *fakeProvider) EnsureClient(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ensureErr
}

func (p *fakeProvider) IsAuthenticated(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authenticated
}

func (p *fakeProvider) InteractiveLogin(ctx context.Context) (identity.Assertion, error) {
	p.mu.Lock()
	fn := p.interactive
	p.mu.Unlock()
	return fn(ctx)
}

func (p *fakeProvider) CurrentAssertion(context.Context) (identity.Assertion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.currentErr
}

func (p *fakeProvider) Logout(context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logoutCalls++
	p.authenticated = false
}

type fakeTimer struct {
	scheduler *fakeScheduler
	delay     time.Duration
	fn        func()
	stopped   bool
}

func (t *fakeTimer) Stop() bool {
	t.scheduler.mu.Lock()
	defer t.scheduler.mu.Unlock()
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

// fire runs the callback even if the timer was stopped, like a real timer
// whose func had already been dispatched when Stop was called.
func (t *fakeTimer) fire() {
	t.fn()
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{scheduler: s, delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) active() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

func (s *fakeScheduler) armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

type harness struct {
	manager   *Manager
	backend   *fakeBackend
	provider  *fakeProvider
	scheduler *fakeScheduler
	store     credstore.Store
	disk      *memory.Adapter
	now       time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		backend:   newFakeBackend(),
		provider:  newFakeProvider(),
		scheduler: &fakeScheduler{},
		disk:      memory.NewAdapter(),
		now:       time.Now().UTC().Truncate(time.Second),
	}

	store, err := credstore.New(h.disk, credstore.Options{})
	require.NoError(t, err)
	h.store = store

	h.manager, err = NewManager(Config{
		Store:     store,
		Backend:   h.backend,
		Provider:  h.provider,
		Scheduler: h.scheduler,
		Now:       func() time.Time { return h.now },
		LogoutBackOff: func() backoff.BackOff {
			return &backoff.StopBackOff{}
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.manager.Close() })
	return h
}

func (h *harness) load(t *testing.T) *credstore.Record {
	t.Helper()
	record, err := h.store.Load(context.Background())
	require.NoError(t, err)
	return record
}
