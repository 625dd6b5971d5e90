// Package procureauth wires the credential store, identity adapters, session
// manager and request gateways of the procurement dashboard into one client.
package procureauth

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/porthorian/procureauth/pkg/authz"
	"github.com/porthorian/procureauth/pkg/backend"
	"github.com/porthorian/procureauth/pkg/credstore"
	oerrors "github.com/porthorian/procureauth/pkg/errors"
	"github.com/porthorian/procureauth/pkg/gateway"
	"github.com/porthorian/procureauth/pkg/identity"
	"github.com/porthorian/procureauth/pkg/metrics"
	"github.com/porthorian/procureauth/pkg/session"
	grpctransport "github.com/porthorian/procureauth/pkg/transport/grpc"
	httptransport "github.com/porthorian/procureauth/pkg/transport/http"
)

type Config struct {
	Logger  logr.Logger
	Runtime RuntimeConfig
	// MetricsRegisterer receives the session and gateway collectors. Metrics
	// are still recorded when nil, just never exported.
	MetricsRegisterer prometheus.Registerer
	HTTPClient        *http.Client

	// Store, Backend and Provider override the ones Runtime would build.
	Store     credstore.Store
	Backend   backend.API
	Provider  identity.Provider
	Resolver  *authz.Resolver
	Scheduler session.Scheduler
}

type Client struct {
	manager       *session.Manager
	backend       backend.API
	resolver      *authz.Resolver
	gateway       *gateway.Gateway
	http          *httptransport.Gateway
	logger        logr.Logger
	closeResource func() error
}

func New(config Config) (*Client, error) {
	closeResource, resolvedConfig, err := config.initialize(context.Background())
	if err != nil {
		return nil, oerrors.Wrap(oerrors.CodeAdapterInitFailed, "failed to initialize client", err)
	}

	collectors := metrics.New()
	if resolvedConfig.MetricsRegisterer != nil {
		if err := collectors.Register(resolvedConfig.MetricsRegisterer); err != nil {
			_ = closeResource()
			return nil, oerrors.Wrap(oerrors.CodeAdapterInitFailed, "failed to register metrics", err)
		}
	}

	resolver := resolvedConfig.Resolver
	if resolver == nil {
		resolver = authz.DefaultResolver()
	}

	manager, err := session.NewManager(session.Config{
		Store:           resolvedConfig.Store,
		Backend:         resolvedConfig.Backend,
		Provider:        resolvedConfig.Provider,
		Resolver:        resolver,
		Logger:          resolvedConfig.Logger,
		Metrics:         collectors,
		Scheduler:       resolvedConfig.Scheduler,
		RefreshLeadTime: resolvedConfig.Runtime.Session.RefreshLeadTime,
		LoginTimeout:    resolvedConfig.Runtime.Identity.LoginTimeout,
		RequestTimeout:  resolvedConfig.Runtime.Backend.RequestTimeout,
	})
	if err != nil {
		_ = closeResource()
		return nil, oerrors.Wrap(oerrors.CodeAdapterInitFailed, "failed to create session manager", err)
	}

	core := gateway.New(manager, gateway.Options{Metrics: collectors, Logger: resolvedConfig.Logger})

	return &Client{
		manager:       manager,
		backend:       resolvedConfig.Backend,
		resolver:      resolver,
		gateway:       core,
		http:          httptransport.New(core, httptransport.Config{Client: resolvedConfig.HTTPClient}),
		logger:        resolvedConfig.Logger,
		closeResource: closeResource,
	}, nil
}

func (c *Client) Bootstrap(ctx context.Context) *Session {
	if c == nil || c.manager == nil {
		return nil
	}
	return c.manager.Bootstrap(ctx)
}

// Login authenticates through the adapter for method. role is only read for
// MethodDemo.
func (c *Client) Login(ctx context.Context, method Method, role string) (Profile, error) {
	if err := c.ready(); err != nil {
		return Profile{}, err
	}
	return c.manager.Login(ctx, method, role)
}

func (c *Client) Logout(ctx context.Context) {
	if c == nil || c.manager == nil {
		return
	}
	c.manager.Logout(ctx)
}

func (c *Client) Refresh(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.manager.Refresh(ctx)
}

// ReloadProfile fetches the profile through the request gateway, so a stale
// credential is refreshed once before the session is given up. The result is
// dropped if the session was replaced while the fetch was in flight.
func (c *Client) ReloadProfile(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}

	var (
		profile backend.Profile
		used    string
	)
	err := c.gateway.Call(ctx, func(ctx context.Context, credential string) (bool, error) {
		p, err := c.backend.Profile(ctx, credential)
		if stderrors.Is(err, backend.ErrUnauthorized) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		profile, used = p, credential
		return false, nil
	})
	if err != nil {
		return err
	}
	return c.manager.UpdateProfile(ctx, used, profile)
}

func (c *Client) Session() *Session {
	if c == nil || c.manager == nil {
		return nil
	}
	return c.manager.CurrentSession()
}

func (c *Client) Permissions() PermissionMask {
	if c == nil || c.manager == nil {
		return 0
	}
	return c.manager.CurrentPermissions()
}

func (c *Client) State() State {
	if c == nil || c.manager == nil {
		return session.StateUnauthenticated
	}
	return c.manager.State()
}

func (c *Client) Subscribe(fn func(Event)) (unsubscribe func()) {
	if c == nil || c.manager == nil {
		return func() {}
	}
	return c.manager.Subscribe(fn)
}

// RoleDisplayName is the localized name of the current session's role, or an
// empty string when logged out.
func (c *Client) RoleDisplayName(locale string) string {
	current := c.Session()
	if current == nil {
		return ""
	}
	return c.resolver.DisplayNameFor(current.Profile.Role, locale)
}

func (c *Client) Resolver() *authz.Resolver {
	if c == nil {
		return nil
	}
	return c.resolver
}

func (c *Client) HTTP() *httptransport.Gateway {
	if c == nil {
		return nil
	}
	return c.http
}

func (c *Client) UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	if c == nil {
		return nil
	}
	return grpctransport.UnaryClientInterceptor(c.gateway)
}

func (c *Client) Close() error {
	if c == nil || c.closeResource == nil {
		return nil
	}

	err := stderrors.Join(c.manager.Close(), c.closeResource())
	c.closeResource = nil
	if err != nil {
		return oerrors.Wrap(oerrors.CodeUnknown, "failed to close client resources", err)
	}
	return nil
}

func (c *Client) ready() error {
	if c == nil || c.manager == nil {
		return oerrors.New(oerrors.CodeNotAuthenticated, "client is not initialized")
	}
	return nil
}
