package auth

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"github.com/loadfabric/loadfabric/internal/protocol"
)

// SimpleVerifier implements the "simple" auth_type: a static table of
// auth IDs to bcrypt-hashed credentials, configured out of band
// (spec.md §6 Configuration surface auth_id/auth_credentials).
type SimpleVerifier struct {
	hashes map[string][]byte // auth ID -> bcrypt hash
}

// NewSimpleVerifier builds a SimpleVerifier from a plain id->bcryptHash map.
func NewSimpleVerifier(hashes map[string][]byte) *SimpleVerifier {
	cp := make(map[string][]byte, len(hashes))
	for k, v := range hashes {
		cp[k] = append([]byte(nil), v...)
	}
	return &SimpleVerifier{hashes: cp}
}

func (v *SimpleVerifier) Type() protocol.AuthType { return protocol.AuthSimple }

func (v *SimpleVerifier) Verify(_ context.Context, cred protocol.AuthCredentials) error {
	hash, ok := v.hashes[cred.ID]
	if !ok {
		return ErrUnknownID
	}
	if err := bcrypt.CompareHashAndPassword(hash, cred.Credentials); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
