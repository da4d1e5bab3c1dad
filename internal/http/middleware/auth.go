// README: Bearer-token auth middleware; resolves the caller into a negotiation actor.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"movebid/internal/infra"
	"movebid/internal/modules/bid"
	"movebid/internal/types"
)

const (
	ctxKeyUID  = "caller_uid"
	ctxKeyRole = "caller_role"
)

// Auth verifies the Authorization: Bearer token and stores uid and role on the context.
// Tokens without a role claim belong to customers.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token", "code": "UNAUTHENTICATED"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil || token == nil || token.UID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "code": "UNAUTHENTICATED"})
			return
		}

		role := token.Role
		if role == "" {
			role = string(bid.ActorCustomer)
		}
		c.Set(ctxKeyUID, token.UID)
		c.Set(ctxKeyRole, role)
		c.Next()
	}
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxKeyUID)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(ctxKeyRole)
}

// CallerActor maps the verified caller onto an actor. Unknown roles and the internal
// system role produce an invalid actor, which every service rejects as forbidden.
func CallerActor(c *gin.Context) bid.Actor {
	uid := CallerUID(c)
	switch t := bid.ActorType(CallerRole(c)); t {
	case bid.ActorCustomer, bid.ActorTransport, bid.ActorManager:
		return bid.Actor{Type: t, ID: types.ID(uid)}
	}
	return bid.Actor{ID: types.ID(uid)}
}
