package httptransport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oerrors "github.com/porthorian/procureauth/pkg/errors"
	"github.com/porthorian/procureauth/pkg/gateway"
)

type rotatingSource struct {
	mu         sync.Mutex
	credential string
	refreshes  int
	logouts    int
}

func (s *rotatingSource) Credential() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential, s.credential != ""
}

func (s *rotatingSource) RefreshCredential(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	s.credential = "fresh"
	return nil
}

func (s *rotatingSource) Logout(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logouts++
	s.credential = ""
}

type recorded struct {
	auth      string
	requestID string
	body      string
}

type recorder struct {
	mu   sync.Mutex
	seen []recorded
}

func (r *recorder) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.seen...)
}

func newServer(t *testing.T, accept string) (*httptest.Server, *recorder) {
	t.Helper()
	rec := &recorder{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.seen = append(rec.seen, recorded{
			auth:      r.Header.Get("Authorization"),
			requestID: r.Header.Get("X-Request-ID"),
			body:      string(body),
		})
		rec.mu.Unlock()

		if r.Header.Get("Authorization") != "Bearer "+accept {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"projects":3}`))
	}))
	t.Cleanup(server.Close)
	return server, rec
}

func TestDoRetriesWithRefreshedCredentialAndReplaysBody(t *testing.T) {
	server, seen := newServer(t, "fresh")
	source := &rotatingSource{credential: "stale"}
	gw := New(gateway.New(source, gateway.Options{}), Config{})

	// An opaque reader has no GetBody, so the gateway must buffer it.
	req, err := http.NewRequest(http.MethodPost, server.URL+"/claims", io.NopCloser(strings.NewReader(`{"amount":10}`)))
	require.NoError(t, err)

	resp, err := gw.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	calls := seen.all()
	require.Len(t, calls, 2)
	assert.Equal(t, "Bearer stale", calls[0].auth)
	assert.Equal(t, "Bearer fresh", calls[1].auth)
	assert.Equal(t, `{"amount":10}`, calls[0].body)
	assert.Equal(t, `{"amount":10}`, calls[1].body)
	assert.NotEmpty(t, calls[0].requestID)
	assert.Equal(t, calls[0].requestID, calls[1].requestID)
	assert.Equal(t, 1, source.refreshes)
}

func TestDoSessionExpiredAfterSecondRejection(t *testing.T) {
	server, seen := newServer(t, "never")
	source := &rotatingSource{credential: "stale"}
	gw := New(gateway.New(source, gateway.Options{}), Config{})

	req, err := http.NewRequest(http.MethodGet, server.URL+"/budget", nil)
	require.NoError(t, err)

	resp, err := gw.Do(req)
	assert.Nil(t, resp)
	assert.True(t, oerrors.IsCode(err, oerrors.CodeSessionExpired))
	assert.Len(t, seen.all(), 2)
	assert.Equal(t, 1, source.refreshes)
	assert.Equal(t, 1, source.logouts)
}

func TestDoWithoutSessionMakesNoRequest(t *testing.T) {
	server, seen := newServer(t, "any")
	gw := New(gateway.New(&rotatingSource{}, gateway.Options{}), Config{})

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	_, err = gw.Do(req)
	assert.True(t, oerrors.IsCode(err, oerrors.CodeNotAuthenticated))
	assert.Empty(t, seen.all())
}

func TestDoJSON(t *testing.T) {
	server, _ := newServer(t, "good")
	gw := New(gateway.New(&rotatingSource{credential: "good"}, gateway.Options{}), Config{})

	var out struct {
		Projects int `json:"projects"`
	}
	require.NoError(t, gw.DoJSON(context.Background(), http.MethodPost, server.URL, map[string]string{"q": "x"}, &out))
	assert.Equal(t, 3, out.Projects)
}

func TestDoJSONStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "ledger offline", http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	gw := New(gateway.New(&rotatingSource{credential: "c"}, gateway.Options{}), Config{})
	err := gw.DoJSON(context.Background(), http.MethodGet, server.URL, nil, nil)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Equal(t, "ledger offline", statusErr.Body)
}
