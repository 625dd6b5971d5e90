package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/porthorian/procureauth/pkg/identity"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(Config{BaseURL: server.URL + "/", Domain: "dashboard.example"})
	require.NoError(t, err)
	return client
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLoginDelegated(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login/delegated-identity", func(w http.ResponseWriter, r *http.Request) {
		var req assertionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Principal != "user-123" || req.Proof != "id.token.sig" || req.Domain != "dashboard.example" {
			http.Error(w, "unexpected body", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"accessCredential": "cred-1",
			"role":             "auditor",
			"profile":          map[string]any{"displayName": "Asha", "title": "Auditor"},
			"expiresIn":        900,
		})
	})

	client := newTestClient(t, mux)
	out, err := client.LoginDelegated(context.Background(), identity.Assertion{Principal: "user-123", Proof: []byte("id.token.sig")})
	require.NoError(t, err)
	assert.Equal(t, "cred-1", out.AccessCredential)
	assert.Equal(t, "auditor", out.Role)
	assert.Equal(t, "Asha", out.Profile.DisplayName)
	assert.EqualValues(t, 900, out.ExpiresIn)
}

func TestLoginDemoEscapesRole(t *testing.T) {
	var gotPath string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		writeJSON(w, http.StatusOK, map[string]any{
			"accessCredential": "demo-cred",
			"role":             "vendor",
			"profile":          map[string]any{"displayName": "Vendor", "demo": true},
		})
	}))

	out, err := client.LoginDemo(context.Background(), "vendor", identity.Assertion{Principal: "demo-vendor-1", Proof: []byte("x.y.")})
	require.NoError(t, err)
	assert.Equal(t, "/auth/demo-login/vendor", gotPath)
	assert.True(t, out.Profile.Demo)
	assert.Zero(t, out.ExpiresIn)
}

func TestRefreshSendsBearer(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer old" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"accessCredential": "new", "role": "deputy", "expiresIn": 60})
	}))

	out, err := client.Refresh(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, "new", out.AccessCredential)

	_, err = client.Refresh(context.Background(), "wrong")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestExchangeRejectsMalformedResponses(t *testing.T) {
	cases := map[string]string{
		"not json":           `{"accessCredential":`,
		"missing credential": `{"role":"vendor"}`,
		"missing role":       `{"accessCredential":"c"}`,
		"negative expiry":    `{"accessCredential":"c","role":"vendor","expiresIn":-5}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(body))
			}))

			_, err := client.Refresh(context.Background(), "c")
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestValidationMessagesUseJSONNames(t *testing.T) {
	err := NewValidator().Validate(Exchange{ExpiresIn: -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accessCredential is required")
	assert.Contains(t, err.Error(), "role is required")
	assert.Contains(t, err.Error(), "expiresIn must be greater than or equal to 0")
}

func TestStatusErrors(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case profilePath:
			w.WriteHeader(http.StatusForbidden)
		default:
			http.Error(w, "backend down", http.StatusBadGateway)
		}
	}))

	_, err := client.Profile(context.Background(), "c")
	assert.ErrorIs(t, err, ErrUnauthorized)

	err = client.Logout(context.Background(), "c")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Equal(t, "backend down", statusErr.Body)
}

func TestProfile(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Profile{Role: "state_head", DisplayName: "R. Iyer", Title: "State Head"})
	}))

	profile, err := client.Profile(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, "state_head", profile.Role)
	assert.Equal(t, "State Head", profile.Title)
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrMissingBaseURL)
}
