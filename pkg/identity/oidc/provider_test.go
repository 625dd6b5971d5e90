package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oerrors "github.com/porthorian/procureauth/pkg/errors"
)

const testClientID = "procureauth-cli"

type mockIssuer struct {
	server *httptest.Server
	issuer string
	kid    string
	key    *rsa.PrivateKey

	mu        sync.Mutex
	nonce     string
	nonceSkew bool
	exchanges int
}

func newMockIssuer(t *testing.T) *mockIssuer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	mock := &mockIssuer{key: key, kid: "test-key"}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 mock.issuer,
			"authorization_endpoint": mock.issuer + "/authorize",
			"token_endpoint":         mock.issuer + "/token",
			"jwks_uri":               mock.issuer + "/keys",
		})
	})

	mux.HandleFunc("GET /keys", func(w http.ResponseWriter, r *http.Request) {
		pub := &mock.key.PublicKey
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]any{{
				"kty": "RSA",
				"kid": mock.kid,
				"alg": "RS256",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			}},
		})
	})

	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.FormValue("code") == "" || r.FormValue("code_verifier") == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		mock.mu.Lock()
		mock.exchanges++
		nonce := mock.nonce
		if mock.nonceSkew {
			nonce = "other-nonce"
		}
		mock.mu.Unlock()

		now := time.Now()
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
			"iss":   mock.issuer,
			"aud":   testClientID,
			"sub":   "user-123",
			"iat":   now.Unix(),
			"exp":   now.Add(5 * time.Minute).Unix(),
			"nonce": nonce,
		})
		token.Header["kid"] = mock.kid
		idToken, err := token.SignedString(mock.key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
		_, _ = fmt.Fprintf(w, "access_token=%s&token_type=Bearer&expires_in=300&id_token=%s", url.QueryEscape("access-token"), url.QueryEscape(idToken))
	})

	mock.server = httptest.NewServer(mux)
	mock.issuer = mock.server.URL
	t.Cleanup(mock.server.Close)
	return mock
}

// browser follows the authorization URL the way a user agent would after the
// user approves, landing on the loopback redirect with extra query values.
func (m *mockIssuer) browser(t *testing.T, extra url.Values) func(string) error {
	return func(authURL string) error {
		parsed, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		query := parsed.Query()
		if query.Get("code_challenge_method") != "S256" || query.Get("code_challenge") == "" {
			return fmt.Errorf("authorization url missing pkce challenge")
		}

		m.mu.Lock()
		m.nonce = query.Get("nonce")
		m.mu.Unlock()

		callback := url.Values{"state": {query.Get("state")}}
		for k, v := range extra {
			callback[k] = v
		}

		go func() {
			resp, err := http.Get(query.Get("redirect_uri") + "?" + callback.Encode())
			if err != nil {
				t.Errorf("follow redirect: %v", err)
				return
			}
			_ = resp.Body.Close()
		}()
		return nil
	}
}

func TestInteractiveLogin(t *testing.T) {
	mock := newMockIssuer(t)
	provider := NewProvider(Config{
		IssuerURL: mock.issuer,
		ClientID:  testClientID,
		Opener:    mock.browser(t, url.Values{"code": {"auth-code"}}),
	})

	ctx := context.Background()
	assert.False(t, provider.IsAuthenticated(ctx))

	assertion, err := provider.InteractiveLogin(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user-123", assertion.Principal)
	assert.Equal(t, 3, strings.Count(string(assertion.Proof), ".")+1)
	assert.True(t, provider.IsAuthenticated(ctx))

	current, err := provider.CurrentAssertion(ctx)
	require.NoError(t, err)
	assert.Equal(t, assertion, current)

	provider.Logout(ctx)
	assert.False(t, provider.IsAuthenticated(ctx))
	_, err = provider.CurrentAssertion(ctx)
	assert.True(t, oerrors.IsCode(err, oerrors.CodeProviderError))
}

func TestInteractiveLoginAccessDenied(t *testing.T) {
	mock := newMockIssuer(t)
	provider := NewProvider(Config{
		IssuerURL: mock.issuer,
		ClientID:  testClientID,
		Opener:    mock.browser(t, url.Values{"error": {"access_denied"}}),
	})

	_, err := provider.InteractiveLogin(context.Background())
	require.Error(t, err)
	assert.True(t, oerrors.IsCode(err, oerrors.CodeUserCancelled))
	assert.Zero(t, mock.exchanges)
}

func TestInteractiveLoginProviderError(t *testing.T) {
	mock := newMockIssuer(t)
	provider := NewProvider(Config{
		IssuerURL: mock.issuer,
		ClientID:  testClientID,
		Opener:    mock.browser(t, url.Values{"error": {"server_error"}, "error_description": {"boom"}}),
	})

	_, err := provider.InteractiveLogin(context.Background())
	require.Error(t, err)
	assert.True(t, oerrors.IsCode(err, oerrors.CodeProviderError))
	assert.Contains(t, err.Error(), "boom")
}

func TestInteractiveLoginNonceMismatch(t *testing.T) {
	mock := newMockIssuer(t)
	mock.nonceSkew = true
	provider := NewProvider(Config{
		IssuerURL: mock.issuer,
		ClientID:  testClientID,
		Opener:    mock.browser(t, url.Values{"code": {"auth-code"}}),
	})

	_, err := provider.InteractiveLogin(context.Background())
	require.Error(t, err)
	assert.True(t, oerrors.IsCode(err, oerrors.CodeProviderError))
	assert.False(t, provider.IsAuthenticated(context.Background()))
}

func TestInteractiveLoginCancelled(t *testing.T) {
	mock := newMockIssuer(t)
	opened := make(chan struct{})
	provider := NewProvider(Config{
		IssuerURL: mock.issuer,
		ClientID:  testClientID,
		Opener: func(string) error {
			close(opened)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-opened
		cancel()
	}()

	_, err := provider.InteractiveLogin(ctx)
	require.Error(t, err)
	assert.True(t, oerrors.IsCode(err, oerrors.CodeUserCancelled))
}

func TestInteractiveLoginTimeout(t *testing.T) {
	mock := newMockIssuer(t)
	provider := NewProvider(Config{
		IssuerURL:    mock.issuer,
		ClientID:     testClientID,
		LoginTimeout: 50 * time.Millisecond,
		Opener:       func(string) error { return nil },
	})

	_, err := provider.InteractiveLogin(context.Background())
	require.Error(t, err)
	assert.True(t, oerrors.IsCode(err, oerrors.CodeUserCancelled))
}

func TestEnsureClientFailures(t *testing.T) {
	err := NewProvider(Config{}).EnsureClient(context.Background())
	assert.True(t, oerrors.IsCode(err, oerrors.CodeAdapterInitFailed))

	unreachable := httptest.NewServer(http.NotFoundHandler())
	unreachable.Close()

	provider := NewProvider(Config{IssuerURL: unreachable.URL, ClientID: testClientID})
	err = provider.EnsureClient(context.Background())
	assert.True(t, oerrors.IsCode(err, oerrors.CodeAdapterInitFailed))

	_, err = provider.InteractiveLogin(context.Background())
	assert.True(t, oerrors.IsCode(err, oerrors.CodeAdapterInitFailed))
}

func TestEnsureClientIsCached(t *testing.T) {
	mock := newMockIssuer(t)
	provider := NewProvider(Config{IssuerURL: mock.issuer, ClientID: testClientID})

	require.NoError(t, provider.EnsureClient(context.Background()))
	mock.server.Close()
	assert.NoError(t, provider.EnsureClient(context.Background()))
}
