// README: Caller identity shared by the token verifiers.
package infra

import (
	"context"
	"strings"
)

// Identity is a verified caller. Role comes from the "role" custom claim and is
// lower-cased; it is empty when the token carries none.
type Identity struct {
	UID    string
	Role   string
	Claims map[string]interface{}
}

// TokenVerifier turns a raw bearer token into a verified Identity.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*Identity, error)
}

func newIdentity(uid string, claims map[string]interface{}) *Identity {
	role, _ := claims["role"].(string)
	return &Identity{UID: uid, Role: strings.ToLower(strings.TrimSpace(role)), Claims: claims}
}
