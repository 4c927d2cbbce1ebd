package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/loadfabric/loadfabric/internal/protocol"
)

// TokenVerifier implements the "token" auth_type: the credentials field
// carries a signed JWT bearer token, verified against a fixed HMAC key
// configured out of band (spec.md §6 auth_type).
type TokenVerifier struct {
	key         []byte
	expectedSub map[string]struct{} // known auth IDs, empty means "any subject"
}

// NewTokenVerifier builds a TokenVerifier. knownIDs, if non-empty, restricts
// which JWT subjects map to ErrUnknownID versus being accepted.
func NewTokenVerifier(key []byte, knownIDs ...string) *TokenVerifier {
	v := &TokenVerifier{key: append([]byte(nil), key...)}
	if len(knownIDs) > 0 {
		v.expectedSub = make(map[string]struct{}, len(knownIDs))
		for _, id := range knownIDs {
			v.expectedSub[id] = struct{}{}
		}
	}
	return v
}

func (v *TokenVerifier) Type() protocol.AuthType { return protocol.AuthToken }

func (v *TokenVerifier) Verify(_ context.Context, cred protocol.AuthCredentials) error {
	if v.expectedSub != nil {
		if _, ok := v.expectedSub[cred.ID]; !ok {
			return ErrUnknownID
		}
	}

	token, err := jwt.Parse(string(cred.Credentials), func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return v.key, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil || !token.Valid {
		return ErrInvalidCredentials
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub != cred.ID {
		return ErrInvalidCredentials
	}
	return nil
}
