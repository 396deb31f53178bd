package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Token is minimal interface for a verified token that can expose claims
type Token interface {
	Claims(v interface{}) error
}

// Verifier is the minimal interface the middleware depends on
type Verifier interface {
	Verify(ctx context.Context, raw string) (Token, error)
}

// Identity is the authenticated caller derived from token claims.
type Identity struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	TokenID string `json:"-"`
}

const identityKey = "identity"

// SetIdentity stores id on the request context.
func SetIdentity(c *gin.Context, id Identity) {
	c.Set(identityKey, id)
}

// IdentityFrom returns the identity set by AuthMiddleware.
func IdentityFrom(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

// bearerToken reads "Authorization: Bearer <token>".
func bearerToken(c *gin.Context) (string, error) {
	auth := c.GetHeader("Authorization")
	if auth == "" {
		return "", errors.New("missing Authorization header")
	}
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errors.New("invalid Authorization header")
	}
	return strings.TrimSpace(token), nil
}

// socketToken falls back to the token query parameter; browsers cannot
// set headers on a websocket upgrade.
func socketToken(c *gin.Context) (string, error) {
	if c.GetHeader("Authorization") == "" {
		if q := c.Query("token"); q != "" {
			return q, nil
		}
	}
	return bearerToken(c)
}

// AuthMiddleware returns a Gin middleware that verifies Bearer tokens. The
// verifiers are tried in order and the first that accepts the token wins.
func AuthMiddleware(verifiers ...Verifier) gin.HandlerFunc {
	return authenticate(bearerToken, verifiers)
}

// SocketAuthMiddleware is AuthMiddleware that also accepts ?token=. Mount
// it on the websocket route only.
func SocketAuthMiddleware(verifiers ...Verifier) gin.HandlerFunc {
	return authenticate(socketToken, verifiers)
}

func authenticate(extract func(*gin.Context) (string, error), verifiers []Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := extract(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		var verified Token
		var lastErr error = errors.New("no verifier configured")
		for _, ver := range verifiers {
			if verified, lastErr = ver.Verify(c.Request.Context(), token); lastErr == nil {
				break
			}
		}
		if lastErr != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "details": lastErr.Error()})
			return
		}

		// Extract claims
		var claims map[string]interface{}
		if err := verified.Claims(&claims); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "failed to parse claims"})
			return
		}
		id := identityFromClaims(claims)
		if id.ID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token has no subject"})
			return
		}

		c.Set("claims", claims)
		SetIdentity(c, id)
		c.Next()
	}
}

func identityFromClaims(claims map[string]interface{}) Identity {
	str := func(k string) string {
		s, _ := claims[k].(string)
		return s
	}
	id := Identity{ID: str("sub"), Name: str("name"), Email: str("email"), TokenID: str("jti")}
	if id.Name == "" {
		id.Name = str("preferred_username")
	}
	if id.Name == "" {
		id.Name = id.Email
	}
	return id
}
