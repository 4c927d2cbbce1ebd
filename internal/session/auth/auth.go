// Package auth implements the three pluggable credential-verification
// schemes a Client-Hello's auth block may name (spec.md §6 Configuration
// surface auth_type, §4.4 step 2 response codes UNKNOWN_AUTH_ID /
// INVALID_CREDENTIALS / UNSUPPORTED_AUTH_TYPE). Verifiers are grounded on
// the teacher's authInterceptor shared-secret check
// (server/internal/grpc/server.go), generalized from a single shared secret
// to a pluggable Verifier per protocol.AuthType.
package auth

import (
	"context"
	"fmt"

	"github.com/loadfabric/loadfabric/internal/protocol"
)

// ErrUnknownID is returned when no credential record exists for the
// presented auth ID — maps to protocol.UnknownAuthID.
var ErrUnknownID = fmt.Errorf("auth: unknown auth id")

// ErrInvalidCredentials is returned when the id is known but the presented
// credentials do not verify — maps to protocol.InvalidCredentials.
var ErrInvalidCredentials = fmt.Errorf("auth: invalid credentials")

// Verifier checks one protocol.AuthType's credentials. Implementations must
// distinguish ErrUnknownID from ErrInvalidCredentials so the session layer
// can pick the correct Hello-Response code.
type Verifier interface {
	Type() protocol.AuthType
	Verify(ctx context.Context, cred protocol.AuthCredentials) error
}

// Registry dispatches Client-Hello auth blocks to the Verifier registered
// for their type.
type Registry struct {
	verifiers map[protocol.AuthType]Verifier
}

// NewRegistry builds a Registry from zero or more Verifiers. AuthNone always
// succeeds regardless of what is registered for it.
func NewRegistry(verifiers ...Verifier) *Registry {
	r := &Registry{verifiers: make(map[protocol.AuthType]Verifier, len(verifiers))}
	for _, v := range verifiers {
		r.verifiers[v.Type()] = v
	}
	return r
}

// Verify checks cred against the registered Verifier for its type. A nil
// cred (AuthNone) always succeeds.
func (r *Registry) Verify(ctx context.Context, cred *protocol.AuthCredentials) error {
	if cred == nil {
		return nil
	}
	if cred.Type == protocol.AuthNone {
		return nil
	}
	v, ok := r.verifiers[cred.Type]
	if !ok {
		return fmt.Errorf("auth: unsupported auth type %s", cred.Type)
	}
	return v.Verify(ctx, *cred)
}
