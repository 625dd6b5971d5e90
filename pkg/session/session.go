package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/porthorian/procureauth/pkg/authz"
)

type Method string

const (
	MethodDelegatedIdentity Method = "delegated_identity"
	MethodDemo              Method = "demo"
)

func ParseMethod(raw string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(raw))) {
	case MethodDelegatedIdentity, "delegated", "oidc":
		return MethodDelegatedIdentity, nil
	case MethodDemo:
		return MethodDemo, nil
	}
	return "", fmt.Errorf("session: unsupported login method %q", raw)
}

type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Profile struct {
	Role            authz.Role
	DisplayName     string
	Title           string
	Permissions     authz.PermissionMask
	AuthenticatedAt time.Time
	Demo            bool
}

// Session is a snapshot of the authenticated state. Values returned by the
// Manager are copies; mutating them has no effect on the Manager.
type Session struct {
	AccessCredential  string
	IdentityReference string
	Profile           Profile
	// ExpiresAt is nil for sessions that never auto-refresh.
	ExpiresAt *time.Time
	Origin    Method
}

// HasPermission is false for a nil session.
func (s *Session) HasPermission(p authz.PermissionMask) bool {
	if s == nil {
		return false
	}
	return s.Profile.Permissions.Has(p)
}

// HasRole is false for a nil session.
func (s *Session) HasRole(role authz.Role) bool {
	if s == nil {
		return false
	}
	return s.Profile.Role == role
}

func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.ExpiresAt != nil {
		exp := *s.ExpiresAt
		out.ExpiresAt = &exp
	}
	return &out
}

type EventKind string

const (
	EventLogin          EventKind = "login"
	EventRestored       EventKind = "restored"
	EventRefreshed      EventKind = "refreshed"
	EventProfileUpdated EventKind = "profile_updated"
	EventLogout         EventKind = "logout"
)

// Event is delivered to subscribers after the change it describes has been
// persisted. Session is nil after a logout.
type Event struct {
	Kind    EventKind
	State   State
	Session *Session
}
