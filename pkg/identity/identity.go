// Package identity defines how the session layer obtains a portable proof of
// who the user is. Assertions are consumed once by a login exchange and are
// never persisted.
package identity

import (
	"context"
)

type Assertion struct {
	Principal string
	Proof     []byte
}

func (a Assertion) Empty() bool {
	return a.Principal == "" || len(a.Proof) == 0
}

// Provider bridges a delegated-identity protocol.
type Provider interface {
	// EnsureClient lazily constructs the protocol client. Failures carry
	// CodeAdapterInitFailed.
	EnsureClient(ctx context.Context) error
	// IsAuthenticated reports whether the provider already holds a usable
	// identity. It has no side effects.
	IsAuthenticated(ctx context.Context) bool
	// InteractiveLogin blocks until the user finishes or abandons the flow,
	// or ctx is done. Abandonment carries CodeUserCancelled; provider failures
	// carry CodeProviderError.
	InteractiveLogin(ctx context.Context) (Assertion, error)
	CurrentAssertion(ctx context.Context) (Assertion, error)
	// Logout is best effort and never fails.
	Logout(ctx context.Context)
}

// RoleAsserter produces assertions without a network or user interaction.
type RoleAsserter interface {
	AssertionForRole(role string) (Assertion, error)
}
