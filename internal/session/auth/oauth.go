package auth

import (
	"context"
	"fmt"

	oidc "github.com/coreos/go-oidc/v3/oidc"

	"github.com/loadfabric/loadfabric/internal/protocol"
)

// OAuthVerifier implements the "oauth" auth_type: the credentials field
// carries a bearer token verified against an external OIDC identity
// provider, configured out of band via its issuer URL (spec.md §6
// auth_type; Non-goal (e) excludes transport ciphers but not bearer-token
// verification against an external IdP, which is an authn concern, not a
// transport one).
type OAuthVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOAuthVerifier builds an OAuthVerifier from an already-constructed
// *oidc.Provider (discovered once at startup against issuerURL) and the
// client ID this coordinator/worker expects tokens to be audienced to.
func NewOAuthVerifier(provider *oidc.Provider, clientID string) *OAuthVerifier {
	return &OAuthVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}
}

func (v *OAuthVerifier) Type() protocol.AuthType { return protocol.AuthOAuth }

func (v *OAuthVerifier) Verify(ctx context.Context, cred protocol.AuthCredentials) error {
	idToken, err := v.verifier.Verify(ctx, string(cred.Credentials))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if idToken.Subject != cred.ID {
		return ErrInvalidCredentials
	}
	return nil
}
