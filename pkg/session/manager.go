// Package session owns the authenticated state of the process: login through
// either identity adapter, persistence, proactive refresh and logout.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/porthorian/procureauth/pkg/authz"
	"github.com/porthorian/procureauth/pkg/backend"
	"github.com/porthorian/procureauth/pkg/credstore"
	oerrors "github.com/porthorian/procureauth/pkg/errors"
	"github.com/porthorian/procureauth/pkg/identity"
	"github.com/porthorian/procureauth/pkg/identity/demo"
	"github.com/porthorian/procureauth/pkg/metrics"
)

const (
	DefaultRefreshLeadTime = 60 * time.Second
	DefaultLoginTimeout    = 5 * time.Minute
	DefaultRequestTimeout  = 30 * time.Second

	minRefreshDelay = time.Second
	tracerName      = "github.com/porthorian/procureauth/pkg/session"
)

type Config struct {
	Store   credstore.Store
	Backend backend.API
	// Provider serves MethodDelegatedIdentity. Optional when only demo
	// logins are used.
	Provider identity.Provider
	// Demo serves MethodDemo. Defaults to a demo adapter over Resolver.
	Demo     identity.RoleAsserter
	Resolver *authz.Resolver

	Logger    logr.Logger
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
	Scheduler Scheduler
	Now       func() time.Time

	RefreshLeadTime time.Duration
	LoginTimeout    time.Duration
	RequestTimeout  time.Duration
	// LogoutBackOff builds the retry policy for the remote logout
	// notification. Defaults to two retries with exponential backoff.
	LogoutBackOff func() backoff.BackOff
}

// Manager serializes every state transition through one lock held for the
// whole operation. Reads of the current session use a separate lock and never
// wait on an in-flight transition.
type Manager struct {
	store     credstore.Store
	backend   backend.API
	provider  identity.Provider
	demo      identity.RoleAsserter
	resolver  *authz.Resolver
	logger    logr.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	scheduler Scheduler
	now       func() time.Time

	leadTime       time.Duration
	loginTimeout   time.Duration
	requestTimeout time.Duration
	logoutBackOff  func() backoff.BackOff

	// opMu guards transitions, the refresh timer fields and lineage.
	opMu     sync.Mutex
	timer    Timer
	timerGen uint64
	closed   bool
	// lineage holds every credential issued to the current session, from
	// login through each refresh.
	lineage map[string]bool

	loginMu     sync.Mutex
	cancelLogin context.CancelFunc

	mu      sync.RWMutex
	state   State
	current *Session

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int

	bootstrapOnce sync.Once
	background    sync.WaitGroup
}

func NewManager(config Config) (*Manager, error) {
	if config.Store == nil {
		return nil, oerrors.ErrMissingStore
	}
	if config.Backend == nil {
		return nil, oerrors.ErrMissingBackend
	}

	resolver := config.Resolver
	if resolver == nil {
		resolver = authz.DefaultResolver()
	}
	demoAdapter := config.Demo
	if demoAdapter == nil {
		demoAdapter = demo.NewAdapter(resolver)
	}
	logger := config.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	tracer := config.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	scheduler := config.Scheduler
	if scheduler == nil {
		scheduler = wallClock{}
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	logoutBackOff := config.LogoutBackOff
	if logoutBackOff == nil {
		logoutBackOff = func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
		}
	}

	return &Manager{
		store:          config.Store,
		backend:        config.Backend,
		provider:       config.Provider,
		demo:           demoAdapter,
		resolver:       resolver,
		logger:         logger.WithName("session"),
		metrics:        config.Metrics,
		tracer:         tracer,
		scheduler:      scheduler,
		now:            now,
		leadTime:       durationOr(config.RefreshLeadTime, DefaultRefreshLeadTime),
		loginTimeout:   durationOr(config.LoginTimeout, DefaultLoginTimeout),
		requestTimeout: durationOr(config.RequestTimeout, DefaultRequestTimeout),
		logoutBackOff:  logoutBackOff,
		subs:           map[int]func(Event){},
	}, nil
}

// Bootstrap restores a session at process start: first from the credential
// store, then silently from the identity provider. It never fails; anything
// that goes wrong leaves the manager unauthenticated. Only the first call does
// work.
func (m *Manager) Bootstrap(ctx context.Context) *Session {
	m.bootstrapOnce.Do(func() {
		m.opMu.Lock()
		defer m.opMu.Unlock()
		m.bootstrap(ctx)
	})
	return m.CurrentSession()
}

func (m *Manager) bootstrap(ctx context.Context) {
	record, err := m.store.Load(ctx)
	if err != nil {
		m.logger.Error(err, "credential store unreadable, starting logged out")
		record = nil
	}

	if record != nil {
		sess, ok := m.sessionFromRecord(record)
		switch {
		case !ok:
			m.logger.Info("discarding persisted session with unknown origin", "origin", record.Origin)
			m.clearStore(ctx)
		case sess.Expired(m.now()):
			m.logger.V(1).Info("persisted session expired", "expires_at", sess.ExpiresAt)
			m.clearStore(ctx)
		default:
			m.install(sess, StateAuthenticated)
			m.startLineage(sess)
			m.armRefresh(sess)
			m.metrics.ObserveRestore()
			m.logger.V(1).Info("restored persisted session", "role", sess.Profile.Role, "origin", sess.Origin)
			m.publish(EventRestored)
			return
		}
	}

	if m.provider == nil {
		return
	}
	if err := m.provider.EnsureClient(ctx); err != nil {
		m.logger.V(1).Info("identity provider unavailable during bootstrap", "error", err.Error())
		return
	}
	if !m.provider.IsAuthenticated(ctx) {
		return
	}

	m.setState(StateAuthenticating)
	sess, err := m.silentLogin(ctx)
	if err != nil {
		m.setState(StateUnauthenticated)
		m.logger.Info("silent login failed", "error", err.Error())
		return
	}
	m.install(sess, StateAuthenticated)
	m.startLineage(sess)
	m.armRefresh(sess)
	m.metrics.ObserveLogin(string(MethodDelegatedIdentity), metrics.OutcomeSuccess)
	m.publish(EventLogin)
}

func (m *Manager) silentLogin(ctx context.Context) (*Session, error) {
	assertion, err := m.provider.CurrentAssertion(ctx)
	if err != nil {
		return nil, classifyAdapterError(err, oerrors.CodeProviderError)
	}
	sess, err := m.exchange(ctx, MethodDelegatedIdentity, "", assertion)
	if err != nil {
		return nil, err
	}
	if err := m.persist(ctx, sess); err != nil {
		return nil, oerrors.LoginFailed("persist", err)
	}
	return sess, nil
}

// Login authenticates with method. roleHint selects the demo role and is
// ignored for delegated logins. An existing session is logged out first.
// Other transitions wait while a login is in progress; Logout instead
// cancels a pending interactive login.
func (m *Manager) Login(ctx context.Context, method Method, roleHint string) (Profile, error) {
	ctx, span := m.tracer.Start(ctx, "session.login", trace.WithAttributes(
		attribute.String("method", string(method)),
	))
	defer span.End()

	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.snapshot() != nil {
		m.logoutLocked(ctx)
	}

	m.setState(StateAuthenticating)
	sess, err := m.authenticate(ctx, method, roleHint)
	if err == nil {
		if persistErr := m.persist(ctx, sess); persistErr != nil {
			err = oerrors.LoginFailed("persist", persistErr)
		}
	}
	if err != nil {
		m.setState(StateUnauthenticated)
		outcome := metrics.OutcomeFailure
		if oerrors.IsCode(err, oerrors.CodeUserCancelled) {
			outcome = metrics.OutcomeCancelled
		} else {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, "login failed")
		}
		m.metrics.ObserveLogin(string(method), outcome)
		m.logger.V(1).Info("login failed", "method", method, "code", oerrors.CodeOf(err))
		return Profile{}, err
	}

	m.install(sess, StateAuthenticated)
	m.startLineage(sess)
	m.armRefresh(sess)
	m.metrics.ObserveLogin(string(method), metrics.OutcomeSuccess)
	span.SetAttributes(attribute.String("role", string(sess.Profile.Role)))
	m.logger.Info("logged in", "method", method, "role", sess.Profile.Role)
	m.publish(EventLogin)
	return sess.Profile, nil
}

func (m *Manager) authenticate(ctx context.Context, method Method, roleHint string) (*Session, error) {
	var assertion identity.Assertion

	switch method {
	case MethodDemo:
		role := strings.TrimSpace(roleHint)
		if role == "" {
			return nil, oerrors.New(oerrors.CodeUnknownRole, "demo login requires a role")
		}
		var err error
		assertion, err = m.demo.AssertionForRole(role)
		if err != nil {
			return nil, classifyAdapterError(err, oerrors.CodeProviderError)
		}
		roleHint = role

	case MethodDelegatedIdentity:
		if m.provider == nil {
			return nil, oerrors.Wrap(oerrors.CodeAdapterInitFailed, "delegated identity login unavailable", oerrors.ErrMissingProvider)
		}
		if err := m.provider.EnsureClient(ctx); err != nil {
			return nil, classifyAdapterError(err, oerrors.CodeAdapterInitFailed)
		}

		loginCtx, cancel := context.WithTimeout(ctx, m.loginTimeout)
		m.setCancelLogin(cancel)
		var err error
		assertion, err = m.provider.InteractiveLogin(loginCtx)
		m.setCancelLogin(nil)
		cancel()
		if err != nil {
			var typed *oerrors.Error
			if !errors.As(err, &typed) && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
				return nil, oerrors.Wrap(oerrors.CodeUserCancelled, "login abandoned", err)
			}
			return nil, classifyAdapterError(err, oerrors.CodeProviderError)
		}

	default:
		return nil, oerrors.LoginFailed("unsupported_method", fmt.Errorf("login method %q", method))
	}

	if assertion.Empty() {
		return nil, oerrors.New(oerrors.CodeProviderError, "identity adapter returned an empty assertion")
	}
	return m.exchange(ctx, method, roleHint, assertion)
}

func (m *Manager) exchange(ctx context.Context, method Method, role string, assertion identity.Assertion) (*Session, error) {
	reqCtx, cancel := context.WithTimeout(ctx, m.requestTimeout)
	defer cancel()

	var (
		out backend.Exchange
		err error
	)
	if method == MethodDemo {
		out, err = m.backend.LoginDemo(reqCtx, role, assertion)
	} else {
		out, err = m.backend.LoginDelegated(reqCtx, assertion)
	}
	if err != nil {
		return nil, oerrors.LoginFailed(exchangeFailureReason(err), err)
	}

	return m.newSession(method, assertion.Principal, out), nil
}

func (m *Manager) newSession(method Method, principal string, out backend.Exchange) *Session {
	now := m.now().UTC()
	role := authz.ParseRole(out.Role)

	sess := &Session{
		AccessCredential:  out.AccessCredential,
		IdentityReference: principal,
		Origin:            method,
		Profile: Profile{
			Role:            role,
			DisplayName:     out.Profile.DisplayName,
			Title:           out.Profile.Title,
			Permissions:     m.resolver.PermissionsFor(role),
			AuthenticatedAt: now,
			Demo:            method == MethodDemo || out.Profile.Demo,
		},
	}
	if sess.Profile.DisplayName == "" {
		sess.Profile.DisplayName = m.resolver.DisplayNameFor(role, "")
	}
	if method == MethodDelegatedIdentity && out.ExpiresIn > 0 {
		exp := now.Add(time.Duration(out.ExpiresIn) * time.Second)
		sess.ExpiresAt = &exp
	}
	return sess
}

// Logout tears down the local session. It never fails: remote notification
// runs in the background and adapter or storage errors are only logged. A
// pending interactive login is cancelled and ends with CodeUserCancelled.
func (m *Manager) Logout(ctx context.Context) {
	ctx, span := m.tracer.Start(ctx, "session.logout")
	defer span.End()

	m.loginMu.Lock()
	if m.cancelLogin != nil {
		m.cancelLogin()
	}
	m.loginMu.Unlock()

	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.logoutLocked(ctx)
}

func (m *Manager) logoutLocked(ctx context.Context) {
	m.cancelRefresh()
	m.lineage = nil

	sess := m.snapshot()
	if sess != nil {
		m.notifyRemoteLogout(ctx, sess.AccessCredential)
	}
	if m.provider != nil {
		m.provider.Logout(ctx)
	}
	m.clearStore(ctx)

	if m.install(nil, StateUnauthenticated) && sess != nil {
		m.metrics.ObserveLogout()
		m.logger.Info("logged out", "role", sess.Profile.Role)
		m.publish(EventLogout)
	}
}

func (m *Manager) notifyRemoteLogout(ctx context.Context, credential string) {
	if credential == "" {
		return
	}

	m.background.Add(1)
	go func() {
		defer m.background.Done()

		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.requestTimeout)
		defer cancel()

		operation := func() error {
			err := m.backend.Logout(notifyCtx, credential)
			if errors.Is(err, backend.ErrUnauthorized) {
				return backoff.Permanent(err)
			}
			return err
		}
		if err := backoff.Retry(operation, backoff.WithContext(m.logoutBackOff(), notifyCtx)); err != nil {
			m.logger.V(1).Info("remote logout notification failed", "error", err.Error())
		}
	}()
}

// Refresh exchanges the current credential for a new one. Demo sessions are a
// no-op. A failed refresh logs out before returning CodeRefreshFailed. The
// exchange is bounded by the request timeout, not by ctx cancellation.
func (m *Manager) Refresh(ctx context.Context) error {
	return m.refresh(ctx, "")
}

// RefreshCredential refreshes only if stale is still the current credential,
// so concurrent callers that saw the same rejected credential trigger one
// exchange between them.
func (m *Manager) RefreshCredential(ctx context.Context, stale string) error {
	return m.refresh(ctx, stale)
}

func (m *Manager) refresh(ctx context.Context, stale string) error {
	ctx, span := m.tracer.Start(ctx, "session.refresh")
	defer span.End()

	m.opMu.Lock()
	defer m.opMu.Unlock()

	err := m.refreshLocked(ctx, stale)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "refresh failed")
	}
	return err
}

func (m *Manager) refreshLocked(ctx context.Context, stale string) error {
	sess := m.snapshot()
	if sess == nil {
		return oerrors.New(oerrors.CodeNotAuthenticated, "no session to refresh")
	}
	if sess.Origin == MethodDemo {
		return nil
	}
	if stale != "" && sess.AccessCredential != stale {
		return nil
	}

	m.setState(StateRefreshing)

	// A caller abandoning its request must not end the session.
	ctx = context.WithoutCancel(ctx)
	reqCtx, cancel := context.WithTimeout(ctx, m.requestTimeout)
	out, err := m.backend.Refresh(reqCtx, sess.AccessCredential)
	cancel()

	var next *Session
	if err == nil {
		next = m.applyRefresh(sess, out)
		err = m.persist(ctx, next)
	}
	if err != nil {
		m.metrics.ObserveRefresh(metrics.OutcomeFailure)
		m.logger.Info("refresh failed, ending session", "error", err.Error())
		m.logoutLocked(ctx)
		return oerrors.Wrap(oerrors.CodeRefreshFailed, "credential refresh failed", err)
	}

	m.install(next, StateAuthenticated)
	m.lineage[next.AccessCredential] = true
	m.armRefresh(next)
	m.metrics.ObserveRefresh(metrics.OutcomeSuccess)
	m.logger.V(1).Info("credential refreshed", "expires_at", next.ExpiresAt)
	m.publish(EventRefreshed)
	return nil
}

// applyRefresh keeps the identity and swaps the credential. A changed role
// re-derives permissions in place.
func (m *Manager) applyRefresh(sess *Session, out backend.Exchange) *Session {
	next := sess.clone()
	next.AccessCredential = out.AccessCredential
	next.ExpiresAt = nil
	if out.ExpiresIn > 0 {
		exp := m.now().UTC().Add(time.Duration(out.ExpiresIn) * time.Second)
		next.ExpiresAt = &exp
	}

	if role := authz.ParseRole(out.Role); role != next.Profile.Role {
		m.logger.Info("role changed on refresh", "from", next.Profile.Role, "to", role)
		next.Profile.Role = role
		next.Profile.DisplayName = m.resolver.DisplayNameFor(role, "")
	}
	next.Profile.Permissions = m.resolver.PermissionsFor(next.Profile.Role)
	if out.Profile.DisplayName != "" {
		next.Profile.DisplayName = out.Profile.DisplayName
	}
	if out.Profile.Title != "" {
		next.Profile.Title = out.Profile.Title
	}
	return next
}

// UpdateProfile applies fields fetched from the backend profile endpoint with
// credential. Permissions follow the role. A profile fetched for a session
// that has since been replaced is dropped; a refresh in between is fine.
func (m *Manager) UpdateProfile(ctx context.Context, credential string, profile backend.Profile) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	sess := m.snapshot()
	if sess == nil {
		return oerrors.New(oerrors.CodeNotAuthenticated, "no session to update")
	}
	if !m.lineage[credential] {
		m.logger.V(1).Info("dropping profile fetched for a replaced session")
		return nil
	}

	next := sess.clone()
	if profile.Role != "" {
		next.Profile.Role = authz.ParseRole(profile.Role)
	}
	next.Profile.Permissions = m.resolver.PermissionsFor(next.Profile.Role)
	if profile.DisplayName != "" {
		next.Profile.DisplayName = profile.DisplayName
	}
	if profile.Title != "" {
		next.Profile.Title = profile.Title
	}

	if err := m.persist(ctx, next); err != nil {
		return oerrors.Wrap(oerrors.CodeStorageUnavailable, "failed to persist profile", err)
	}
	m.install(next, StateAuthenticated)
	m.publish(EventProfileUpdated)
	return nil
}

func (m *Manager) CurrentSession() *Session {
	return m.snapshot().clone()
}

// CurrentPermissions is empty when logged out.
func (m *Manager) CurrentPermissions() authz.PermissionMask {
	sess := m.snapshot()
	if sess == nil {
		return 0
	}
	return sess.Profile.Permissions
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) Credential() (string, bool) {
	sess := m.snapshot()
	if sess == nil {
		return "", false
	}
	return sess.AccessCredential, true
}

// Subscribe registers fn for session events. fn runs synchronously on the
// transition path and must not call back into Login, Logout or Refresh.
func (m *Manager) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

// Close stops the refresh timer and waits for background logout
// notifications. The persisted session is left in place.
func (m *Manager) Close() error {
	m.opMu.Lock()
	m.closed = true
	m.cancelRefresh()
	m.opMu.Unlock()

	m.background.Wait()
	return nil
}

func (m *Manager) startLineage(sess *Session) {
	m.lineage = map[string]bool{sess.AccessCredential: true}
}

func (m *Manager) setCancelLogin(cancel context.CancelFunc) {
	m.loginMu.Lock()
	m.cancelLogin = cancel
	m.loginMu.Unlock()
}

func (m *Manager) armRefresh(sess *Session) {
	m.cancelRefresh()
	if m.closed || sess == nil || sess.Origin != MethodDelegatedIdentity || sess.ExpiresAt == nil {
		return
	}

	delay := sess.ExpiresAt.Sub(m.now()) - m.leadTime
	if delay < minRefreshDelay {
		delay = minRefreshDelay
	}

	m.timerGen++
	gen := m.timerGen
	m.timer = m.scheduler.AfterFunc(delay, func() { m.onRefreshTimer(gen) })
	m.logger.V(1).Info("proactive refresh armed", "in", delay.String())
}

func (m *Manager) cancelRefresh() {
	m.timerGen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) onRefreshTimer(gen uint64) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.closed || gen != m.timerGen {
		return
	}

	ctx, span := m.tracer.Start(context.Background(), "session.refresh", trace.WithAttributes(
		attribute.Bool("proactive", true),
	))
	defer span.End()

	if err := m.refreshLocked(ctx, ""); err != nil {
		span.RecordError(err)
		m.logger.Info("proactive refresh failed", "error", err.Error())
	}
}

// persist writes sess to the store. It must happen before install so that no
// observer sees a session that is not durable.
func (m *Manager) persist(ctx context.Context, sess *Session) error {
	return m.store.Save(ctx, recordFromSession(sess))
}

func (m *Manager) clearStore(ctx context.Context) {
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error(err, "failed to clear persisted session")
	}
}

func (m *Manager) snapshot() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

// install swaps credential and profile as one pointer. It reports whether the
// visible session changed.
func (m *Manager) install(sess *Session, state State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := m.current != sess
	m.current = sess
	m.state = state
	return changed
}

func (m *Manager) publish(kind EventKind) {
	m.mu.RLock()
	event := Event{Kind: kind, State: m.state, Session: m.current.clone()}
	m.mu.RUnlock()

	m.subMu.Lock()
	subscribers := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		subscribers = append(subscribers, fn)
	}
	m.subMu.Unlock()

	for _, fn := range subscribers {
		fn(event)
	}
}

func (m *Manager) sessionFromRecord(record *credstore.Record) (*Session, bool) {
	origin := Method(record.Origin)
	if origin != MethodDelegatedIdentity && origin != MethodDemo {
		return nil, false
	}

	role := authz.ParseRole(record.Profile.Role)
	sess := &Session{
		AccessCredential:  record.AccessCredential,
		IdentityReference: record.IdentityReference,
		Origin:            origin,
		Profile: Profile{
			Role:            role,
			DisplayName:     record.Profile.DisplayName,
			Title:           record.Profile.Title,
			Permissions:     m.resolver.PermissionsFor(role),
			AuthenticatedAt: record.Profile.AuthenticatedAt,
			Demo:            record.Profile.Demo,
		},
	}
	if record.ExpiresAt != nil {
		exp := record.ExpiresAt.UTC()
		sess.ExpiresAt = &exp
	}
	return sess, true
}

func recordFromSession(sess *Session) credstore.Record {
	record := credstore.Record{
		Version:           credstore.RecordVersion,
		AccessCredential:  sess.AccessCredential,
		IdentityReference: sess.IdentityReference,
		Origin:            string(sess.Origin),
		Profile: credstore.ProfileRecord{
			Role:            string(sess.Profile.Role),
			DisplayName:     sess.Profile.DisplayName,
			Title:           sess.Profile.Title,
			AuthenticatedAt: sess.Profile.AuthenticatedAt,
			Demo:            sess.Profile.Demo,
		},
	}
	if sess.ExpiresAt != nil {
		exp := *sess.ExpiresAt
		record.ExpiresAt = &exp
	}
	return record
}

// classifyAdapterError keeps a typed adapter error as is and assigns fallback
// to anything untyped.
func classifyAdapterError(err error, fallback oerrors.Code) error {
	var typed *oerrors.Error
	if errors.As(err, &typed) {
		return err
	}
	return oerrors.Wrap(fallback, "identity adapter failed", err)
}

func exchangeFailureReason(err error) string {
	switch {
	case errors.Is(err, backend.ErrUnauthorized):
		return "rejected"
	case errors.Is(err, backend.ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "exchange"
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}
