// Package oidc implements the delegated-identity adapter on top of an OpenID
// Connect provider. Login runs the authorization-code flow with PKCE against a
// loopback redirect listener.
package oidc

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-logr/logr"
	"golang.org/x/oauth2"

	oerrors "github.com/porthorian/procureauth/pkg/errors"
	"github.com/porthorian/procureauth/pkg/identity"
)

const (
	defaultListenAddr   = "127.0.0.1:0"
	defaultCallbackPath = "/callback"
	defaultLoginTimeout = 5 * time.Minute

	randomEntropyByteCount = 32
)

var defaultScopes = []string{gooidc.ScopeOpenID, "profile", "email"}

type Config struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	Scopes       []string

	// ListenAddr is the loopback address the redirect listener binds.
	ListenAddr   string
	CallbackPath string
	LoginTimeout time.Duration

	// DevMode skips TLS verification against the issuer.
	DevMode bool

	// Opener presents the authorization URL to the user. Required for
	// interactive login.
	Opener func(authURL string) error

	HTTPClient *http.Client
	Logger     logr.Logger
}

type heldIdentity struct {
	subject   string
	rawToken  string
	expiresAt time.Time
}

type Provider struct {
	config Config
	logger logr.Logger
	client *http.Client
	now    func() time.Time

	initMu   sync.Mutex
	verifier *gooidc.IDTokenVerifier
	oauth2   *oauth2.Config

	mu   sync.RWMutex
	held *heldIdentity
}

var _ identity.Provider = (*Provider)(nil)

func NewProvider(config Config) *Provider {
	if config.ListenAddr == "" {
		config.ListenAddr = defaultListenAddr
	}
	if config.CallbackPath == "" {
		config.CallbackPath = defaultCallbackPath
	}
	if config.LoginTimeout <= 0 {
		config.LoginTimeout = defaultLoginTimeout
	}
	if len(config.Scopes) == 0 {
		config.Scopes = append([]string{}, defaultScopes...)
	}

	logger := config.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
		if config.DevMode {
			client.Transport = &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // dev mode only
			}
		}
	}

	return &Provider{
		config: config,
		logger: logger.WithName("oidc"),
		client: client,
		now:    time.Now,
	}
}

func (p *Provider) EnsureClient(ctx context.Context) error {
	p.initMu.Lock()
	defer p.initMu.Unlock()

	if p.verifier != nil {
		return nil
	}
	if strings.TrimSpace(p.config.IssuerURL) == "" || strings.TrimSpace(p.config.ClientID) == "" {
		return oerrors.New(oerrors.CodeAdapterInitFailed, "oidc issuer url and client id are required")
	}

	discovery, err := gooidc.NewProvider(p.clientContext(ctx), p.config.IssuerURL)
	if err != nil {
		return oerrors.Wrap(oerrors.CodeAdapterInitFailed, "failed to discover oidc provider", err)
	}

	p.verifier = discovery.Verifier(&gooidc.Config{ClientID: p.config.ClientID})
	p.oauth2 = &oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: p.config.ClientSecret,
		Endpoint:     discovery.Endpoint(),
		Scopes:       append([]string{}, p.config.Scopes...),
	}
	p.logger.V(1).Info("oidc client ready", "issuer", p.config.IssuerURL)
	return nil
}

func (p *Provider) IsAuthenticated(_ context.Context) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.held != nil && p.now().Before(p.held.expiresAt)
}

func (p *Provider) CurrentAssertion(_ context.Context) (identity.Assertion, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.held == nil || !p.now().Before(p.held.expiresAt) {
		return identity.Assertion{}, oerrors.New(oerrors.CodeProviderError, "no identity held by oidc provider")
	}
	return identity.Assertion{
		Principal: p.held.subject,
		Proof:     []byte(p.held.rawToken),
	}, nil
}

func (p *Provider) Logout(_ context.Context) {
	p.mu.Lock()
	p.held = nil
	p.mu.Unlock()
}

type callbackResult struct {
	code string
	err  error
}

func (p *Provider) InteractiveLogin(ctx context.Context) (identity.Assertion, error) {
	if err := p.EnsureClient(ctx); err != nil {
		return identity.Assertion{}, err
	}
	if p.config.Opener == nil {
		return identity.Assertion{}, oerrors.New(oerrors.CodeProviderError, "no opener configured for interactive login")
	}

	listener, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return identity.Assertion{}, oerrors.Wrap(oerrors.CodeProviderError, "failed to open redirect listener", err)
	}

	state, err := randomToken()
	if err != nil {
		_ = listener.Close()
		return identity.Assertion{}, oerrors.Wrap(oerrors.CodeProviderError, "failed to start oidc login", err)
	}
	nonce, err := randomToken()
	if err != nil {
		_ = listener.Close()
		return identity.Assertion{}, oerrors.Wrap(oerrors.CodeProviderError, "failed to start oidc login", err)
	}
	verifier := oauth2.GenerateVerifier()

	flow := *p.oauth2
	flow.RedirectURL = "http://" + listener.Addr().String() + p.config.CallbackPath

	results := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(p.config.CallbackPath, p.handleCallback(state, results))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if serveErr := server.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			p.logger.Error(serveErr, "redirect listener stopped")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	authURL := flow.AuthCodeURL(state,
		oauth2.AccessTypeOnline,
		gooidc.Nonce(nonce),
		oauth2.S256ChallengeOption(verifier),
	)
	if err := p.config.Opener(authURL); err != nil {
		return identity.Assertion{}, oerrors.Wrap(oerrors.CodeProviderError, "failed to open login url", err)
	}

	timer := time.NewTimer(p.config.LoginTimeout)
	defer timer.Stop()

	var result callbackResult
	select {
	case <-ctx.Done():
		return identity.Assertion{}, oerrors.Wrap(oerrors.CodeUserCancelled, "login abandoned", ctx.Err())
	case <-timer.C:
		return identity.Assertion{}, oerrors.New(oerrors.CodeUserCancelled, "login timed out waiting for the user")
	case result = <-results:
	}
	if result.err != nil {
		return identity.Assertion{}, result.err
	}

	token, err := flow.Exchange(p.clientContext(ctx), result.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return identity.Assertion{}, oerrors.Wrap(oerrors.CodeProviderError, "oidc token exchange failed", err)
	}

	rawIDToken, _ := token.Extra("id_token").(string)
	if strings.TrimSpace(rawIDToken) == "" {
		return identity.Assertion{}, oerrors.New(oerrors.CodeProviderError, "oidc provider did not return an id_token")
	}

	idToken, err := p.verifier.Verify(p.clientContext(ctx), rawIDToken)
	if err != nil {
		return identity.Assertion{}, oerrors.Wrap(oerrors.CodeProviderError, "invalid oidc id_token", err)
	}
	if idToken.Nonce != nonce {
		return identity.Assertion{}, oerrors.New(oerrors.CodeProviderError, "oidc nonce mismatch")
	}
	if strings.TrimSpace(idToken.Subject) == "" {
		return identity.Assertion{}, oerrors.New(oerrors.CodeProviderError, "oidc subject claim missing")
	}

	p.mu.Lock()
	p.held = &heldIdentity{
		subject:   idToken.Subject,
		rawToken:  rawIDToken,
		expiresAt: idToken.Expiry,
	}
	p.mu.Unlock()

	p.logger.V(1).Info("oidc login completed", "subject", idToken.Subject)
	return identity.Assertion{
		Principal: idToken.Subject,
		Proof:     []byte(rawIDToken),
	}, nil
}

func (p *Provider) handleCallback(state string, results chan<- callbackResult) http.HandlerFunc {
	var once sync.Once
	deliver := func(r callbackResult) {
		once.Do(func() { results <- r })
	}

	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if got := strings.TrimSpace(query.Get("state")); got == "" || got != state {
			http.Error(w, "invalid oidc state", http.StatusBadRequest)
			return
		}

		if providerErr := query.Get("error"); providerErr != "" {
			description := query.Get("error_description")
			if providerErr == "access_denied" {
				deliver(callbackResult{err: oerrors.New(oerrors.CodeUserCancelled, "login was declined at the identity provider")})
			} else {
				deliver(callbackResult{err: oerrors.New(oerrors.CodeProviderError, fmt.Sprintf("identity provider returned %s: %s", providerErr, description))})
			}
			_, _ = w.Write([]byte("Login did not complete. You can close this window."))
			return
		}

		code := strings.TrimSpace(query.Get("code"))
		if code == "" {
			http.Error(w, "missing authorization code", http.StatusBadRequest)
			return
		}

		deliver(callbackResult{code: code})
		_, _ = w.Write([]byte("Login complete. You can close this window."))
	}
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return gooidc.ClientContext(ctx, p.client)
}

func randomToken() (string, error) {
	buf := make([]byte, randomEntropyByteCount)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
