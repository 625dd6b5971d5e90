package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/porthorian/procureauth/pkg/gateway"
)

type Config struct {
	Client          *http.Client
	TokenHeader     string
	TokenScheme     string
	RequestIDHeader string
}

func DefaultConfig() Config {
	return Config{
		Client:          http.DefaultClient,
		TokenHeader:     "Authorization",
		TokenScheme:     "Bearer",
		RequestIDHeader: "X-Request-ID",
	}
}

// StatusError is returned by DoJSON for non-2xx responses other than the
// rejection the gateway already handled.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http gateway: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Gateway sends HTTP requests with the session credential attached. A 401
// response triggers the shared refresh-and-retry-once policy.
type Gateway struct {
	core   *gateway.Gateway
	config Config
}

func New(core *gateway.Gateway, config Config) *Gateway {
	defaults := DefaultConfig()
	if config.Client == nil {
		config.Client = defaults.Client
	}
	if config.TokenHeader == "" {
		config.TokenHeader = defaults.TokenHeader
	}
	if config.TokenScheme == "" {
		config.TokenScheme = defaults.TokenScheme
	}
	if config.RequestIDHeader == "" {
		config.RequestIDHeader = defaults.RequestIDHeader
	}
	return &Gateway{core: core, config: config}
}

// Do issues req, retrying at most once after a refresh. The caller owns the
// returned response body. The request body is buffered when it cannot be
// replayed through GetBody.
func (g *Gateway) Do(req *http.Request) (*http.Response, error) {
	if err := makeReplayable(req); err != nil {
		return nil, err
	}

	requestID := req.Header.Get(g.config.RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	var resp *http.Response
	err := g.core.Call(req.Context(), func(ctx context.Context, credential string) (bool, error) {
		attempt := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return false, fmt.Errorf("http gateway: replay body: %w", err)
			}
			attempt.Body = body
		}
		attempt.Header.Set(g.config.TokenHeader, g.config.TokenScheme+" "+credential)
		attempt.Header.Set(g.config.RequestIDHeader, requestID)

		r, err := g.config.Client.Do(attempt)
		if err != nil {
			return false, err
		}
		if r.StatusCode == http.StatusUnauthorized {
			_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, 4096))
			_ = r.Body.Close()
			return true, nil
		}
		resp = r
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// DoJSON sends in as a JSON body (when non-nil) and decodes the response into
// out (when non-nil).
func (g *Gateway) DoJSON(ctx context.Context, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("http gateway: encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("http gateway: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("http gateway: decode response: %w", err)
	}
	return nil
}

func makeReplayable(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}

	payload, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return fmt.Errorf("http gateway: buffer body: %w", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(payload))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}
	return nil
}
