package procureauth

import (
	"github.com/porthorian/procureauth/pkg/authz"
	"github.com/porthorian/procureauth/pkg/session"
)

type (
	Session        = session.Session
	Profile        = session.Profile
	Event          = session.Event
	State          = session.State
	Method         = session.Method
	Role           = authz.Role
	PermissionMask = authz.PermissionMask
)

const (
	MethodDelegatedIdentity = session.MethodDelegatedIdentity
	MethodDemo              = session.MethodDemo
)
