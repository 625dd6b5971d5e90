// Package backend is the client for the dashboard's authentication endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/porthorian/procureauth/pkg/identity"
)

const (
	loginDelegatedPath = "/auth/login/delegated-identity"
	demoLoginPath      = "/auth/demo-login/"
	refreshPath        = "/auth/refresh"
	logoutPath         = "/auth/logout"
	profilePath        = "/auth/profile"

	maxResponseBytes = 1 << 20
)

var (
	// ErrUnauthorized means the backend rejected the presented assertion or
	// credential (HTTP 401 or 403).
	ErrUnauthorized      = errors.New("backend: unauthorized")
	ErrMalformedResponse = errors.New("backend: malformed response")
	ErrMissingBaseURL    = errors.New("backend: base url is required")
)

type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend: unexpected status %d: %s", e.StatusCode, e.Body)
}

type Profile struct {
	Role        string `json:"role,omitempty"`
	DisplayName string `json:"displayName"`
	Title       string `json:"title"`
	Demo        bool   `json:"demo"`
}

// Exchange is the response of the login, demo-login and refresh endpoints.
type Exchange struct {
	AccessCredential string  `json:"accessCredential" validate:"required"`
	Role             string  `json:"role" validate:"required"`
	Profile          Profile `json:"profile"`
	// ExpiresIn is in seconds. Zero means the credential carries no expiry.
	ExpiresIn int64 `json:"expiresIn" validate:"gte=0"`
}

// API is what the session manager needs from the backend.
type API interface {
	LoginDelegated(ctx context.Context, assertion identity.Assertion) (Exchange, error)
	LoginDemo(ctx context.Context, role string, assertion identity.Assertion) (Exchange, error)
	Refresh(ctx context.Context, credential string) (Exchange, error)
	Logout(ctx context.Context, credential string) error
	Profile(ctx context.Context, credential string) (Profile, error)
}

type Config struct {
	BaseURL string
	// Domain is sent with delegated logins so the backend can bind the
	// assertion to this deployment.
	Domain     string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     logr.Logger
}

type Client struct {
	baseURL  *url.URL
	domain   string
	http     *http.Client
	validate *Validator
	logger   logr.Logger
}

var _ API = (*Client)(nil)

func New(config Config) (*Client, error) {
	if strings.TrimSpace(config.BaseURL) == "" {
		return nil, ErrMissingBaseURL
	}
	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("backend: parse base url: %w", err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := config.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	return &Client{
		baseURL:  base,
		domain:   config.Domain,
		http:     httpClient,
		validate: NewValidator(),
		logger:   logger.WithName("backend"),
	}, nil
}

type assertionRequest struct {
	Principal string `json:"principal"`
	Proof     string `json:"proof"`
	Domain    string `json:"domain,omitempty"`
}

func (c *Client) LoginDelegated(ctx context.Context, assertion identity.Assertion) (Exchange, error) {
	body := assertionRequest{
		Principal: assertion.Principal,
		Proof:     string(assertion.Proof),
		Domain:    c.domain,
	}
	return c.exchange(ctx, loginDelegatedPath, "", body)
}

func (c *Client) LoginDemo(ctx context.Context, role string, assertion identity.Assertion) (Exchange, error) {
	body := assertionRequest{
		Principal: assertion.Principal,
		Proof:     string(assertion.Proof),
	}
	return c.exchange(ctx, demoLoginPath+url.PathEscape(role), "", body)
}

func (c *Client) Refresh(ctx context.Context, credential string) (Exchange, error) {
	return c.exchange(ctx, refreshPath, credential, nil)
}

func (c *Client) Logout(ctx context.Context, credential string) error {
	resp, err := c.do(ctx, http.MethodPost, logoutPath, credential, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	return checkStatus(resp)
}

func (c *Client) Profile(ctx context.Context, credential string) (Profile, error) {
	resp, err := c.do(ctx, http.MethodGet, profilePath, credential, nil)
	if err != nil {
		return Profile{}, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return Profile{}, err
	}

	var profile Profile
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&profile); err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return profile, nil
}

func (c *Client) exchange(ctx context.Context, path, credential string, body any) (Exchange, error) {
	resp, err := c.do(ctx, http.MethodPost, path, credential, body)
	if err != nil {
		return Exchange{}, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return Exchange{}, err
	}

	var out Exchange
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return Exchange{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := c.validate.Validate(out); err != nil {
		return Exchange{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path, credential string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("backend: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	endpoint := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	c.logger.V(1).Info("backend call", "method", method, "path", path, "status", resp.StatusCode)
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	return nil
}
