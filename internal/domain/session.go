package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// IdentityKind distinguishes anonymous sessions from signed-in users.
type IdentityKind string

const (
	IdentityAnonymous     IdentityKind = "anonymous"
	IdentityAuthenticated IdentityKind = "authenticated"
)

// SessionIdentity selects which remote partition the engine addresses.
type SessionIdentity struct {
	Kind IdentityKind `json:"kind"`
	ID   string       `json:"id"`
	Role string       `json:"role,omitempty"`
}

// NewAnonymous returns a fresh anonymous identity with a random session ID.
func NewAnonymous() SessionIdentity {
	return SessionIdentity{Kind: IdentityAnonymous, ID: uuid.New().String()}
}

// Anonymous wraps an existing session ID.
func Anonymous(sessionID string) SessionIdentity {
	return SessionIdentity{Kind: IdentityAnonymous, ID: sessionID}
}

// Authenticated wraps a user ID.
func Authenticated(userID string) SessionIdentity {
	return SessionIdentity{Kind: IdentityAuthenticated, ID: userID}
}

func (s SessionIdentity) IsAuthenticated() bool {
	return s.Kind == IdentityAuthenticated
}

// Validate checks that the identity can address a partition.
func (s SessionIdentity) Validate() error {
	switch s.Kind {
	case IdentityAnonymous, IdentityAuthenticated:
	default:
		return fmt.Errorf("invalid identity kind: %q", s.Kind)
	}
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("identity id is required")
	}
	return nil
}

// Partition is the local key namespace for this identity. All anonymous
// sessions on one device share the guest partition.
func (s SessionIdentity) Partition() string {
	if s.IsAuthenticated() {
		return "user:" + s.ID
	}
	return "guest"
}

func (s SessionIdentity) String() string {
	return string(s.Kind) + ":" + s.ID
}
