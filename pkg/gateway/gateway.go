// Package gateway implements the refresh-and-retry-once policy shared by the
// HTTP and gRPC request gateways.
package gateway

import (
	"context"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"

	oerrors "github.com/porthorian/procureauth/pkg/errors"
	"github.com/porthorian/procureauth/pkg/metrics"
)

// SessionSource is the slice of the session manager the gateway may use. The
// gateway never reads or writes the credential store itself.
type SessionSource interface {
	Credential() (string, bool)
	RefreshCredential(ctx context.Context, stale string) error
	Logout(ctx context.Context)
}

// Attempt issues one request carrying credential. unauthorized reports the
// protocol's rejection signal; any other failure is returned as err and is
// passed through to the caller untouched.
type Attempt func(ctx context.Context, credential string) (unauthorized bool, err error)

type Options struct {
	Metrics *metrics.Metrics
	Logger  logr.Logger
}

type Gateway struct {
	source  SessionSource
	metrics *metrics.Metrics
	logger  logr.Logger

	refreshes singleflight.Group
}

func New(source SessionSource, options Options) *Gateway {
	logger := options.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	return &Gateway{
		source:  source,
		metrics: options.Metrics,
		logger:  logger.WithName("gateway"),
	}
}

// Call runs attempt with the current credential. On rejection it refreshes
// once and retries once. If the retry is also rejected, or the refresh fails,
// the session is logged out before CodeSessionExpired is returned. A caller
// whose ctx ends while waiting on the refresh gets ctx.Err() and the session
// is left alone.
func (g *Gateway) Call(ctx context.Context, attempt Attempt) error {
	credential, ok := g.source.Credential()
	if !ok {
		return oerrors.New(oerrors.CodeNotAuthenticated, "no active session")
	}

	unauthorized, err := attempt(ctx, credential)
	if err != nil || !unauthorized {
		return err
	}

	g.logger.V(1).Info("credential rejected, refreshing")
	if err := g.refresh(ctx, credential); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		g.expire(ctx)
		return oerrors.Wrap(oerrors.CodeSessionExpired, "session expired", err)
	}

	next, ok := g.source.Credential()
	if !ok {
		g.expire(ctx)
		return oerrors.New(oerrors.CodeSessionExpired, "session ended during refresh")
	}

	unauthorized, err = attempt(ctx, next)
	if err != nil {
		return err
	}
	if unauthorized {
		g.expire(ctx)
		return oerrors.New(oerrors.CodeSessionExpired, "credential rejected after refresh")
	}

	g.metrics.ObserveGatewayRetry(metrics.OutcomeRecovered)
	return nil
}

// refresh coalesces concurrent refreshes for the same rejected credential.
// The shared refresh is detached from any single caller's cancellation.
func (g *Gateway) refresh(ctx context.Context, stale string) error {
	shared := context.WithoutCancel(ctx)
	result := g.refreshes.DoChan(stale, func() (any, error) {
		return nil, g.source.RefreshCredential(shared, stale)
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-result:
		return res.Err
	}
}

func (g *Gateway) expire(ctx context.Context) {
	g.metrics.ObserveGatewayRetry(metrics.OutcomeExpired)
	g.source.Logout(ctx)
	g.logger.Info("session expired")
}
