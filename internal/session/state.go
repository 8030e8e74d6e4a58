// Package session tracks whether the console user is authenticated and keeps
// that answer consistent with the clinic API.
package session

import "github.com/gulfclinic/clinicadmin/internal/cli/client"

// Status is the authentication status of the session
type Status int

const (
	// StatusUnknown means no verification has completed yet
	StatusUnknown Status = iota
	// StatusAuthenticated means the server confirmed the stored credential
	StatusAuthenticated
	// StatusUnauthenticated means there is no usable credential
	StatusUnauthenticated
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// State is a snapshot of the session. Identity is set only when Status is
// StatusAuthenticated.
type State struct {
	Status   Status
	Identity *client.Identity
}

// Authenticated reports whether the state carries a confirmed identity
func (s State) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.Identity != nil
}

func (s State) equal(o State) bool {
	if s.Status != o.Status {
		return false
	}
	if s.Identity == nil || o.Identity == nil {
		return s.Identity == o.Identity
	}
	return *s.Identity == *o.Identity
}

func unknown() State {
	return State{Status: StatusUnknown}
}

func unauthenticated() State {
	return State{Status: StatusUnauthenticated}
}

func authenticated(id *client.Identity) State {
	cp := *id
	return State{Status: StatusAuthenticated, Identity: &cp}
}
