// Package demo synthesizes identities for presentation logins. Its proofs are
// unsecured JWTs (alg "none") so that nothing downstream can mistake them for
// verified credentials.
package demo

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/porthorian/procureauth/pkg/authz"
	oerrors "github.com/porthorian/procureauth/pkg/errors"
	"github.com/porthorian/procureauth/pkg/identity"
)

const PrincipalPrefix = "demo-"

type Claims struct {
	Role string `json:"role"`
	Demo bool   `json:"demo"`
	jwt.RegisteredClaims
}

type Adapter struct {
	resolver *authz.Resolver
	newID    func() string
	now      func() time.Time
}

var _ identity.RoleAsserter = (*Adapter)(nil)

func NewAdapter(resolver *authz.Resolver) *Adapter {
	if resolver == nil {
		resolver = authz.DefaultResolver()
	}
	return &Adapter{
		resolver: resolver,
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

func (a *Adapter) AssertionForRole(role string) (identity.Assertion, error) {
	parsed := authz.ParseRole(role)
	if !a.resolver.Known(parsed) {
		return identity.Assertion{}, oerrors.New(oerrors.CodeUnknownRole, fmt.Sprintf("no demo identity for role %q", role))
	}

	principal := PrincipalPrefix + string(parsed) + "-" + a.newID()
	claims := Claims{
		Role: string(parsed),
		Demo: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  principal,
			IssuedAt: jwt.NewNumericDate(a.now()),
		},
	}

	proof, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		return identity.Assertion{}, oerrors.Wrap(oerrors.CodeProviderError, "failed to encode demo proof", err)
	}

	return identity.Assertion{
		Principal: principal,
		Proof:     []byte(proof),
	}, nil
}

// ParseProof decodes a demo proof. It rejects anything that is not an
// unsecured token marked demo, so a signed production assertion is never
// accepted on the demo path.
func ParseProof(proof []byte) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(string(proof), &claims, func(*jwt.Token) (any, error) {
		return jwt.UnsafeAllowNoneSignatureType, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodNone.Alg()}))
	if err != nil {
		return Claims{}, fmt.Errorf("demo: parse proof: %w", err)
	}
	if !claims.Demo {
		return Claims{}, fmt.Errorf("demo: proof is not marked demo")
	}
	return claims, nil
}
