package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderToken carries the raw session token.
	HeaderToken = "X-Session-Token"

	contextKeyPrincipal = "sessionPrincipal"
	contextKeyToken     = "sessionToken"
)

// Resolver maps a raw token to its principal.
type Resolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// TokenFrom returns the raw token presented on the request.
func TokenFrom(c *gin.Context) string {
	if t := c.GetHeader(HeaderToken); t != "" {
		return t
	}
	return c.GetHeader("Authorization")
}

// Middleware resolves the presented token and stores the principal on the
// context. Requests without a valid token pass through unauthenticated.
func Middleware(r Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := TokenFrom(c); token != "" {
			if principal, err := r.Resolve(c.Request.Context(), token); err == nil {
				c.Set(contextKeyPrincipal, principal)
				c.Set(contextKeyToken, token)
			}
		}
		c.Next()
	}
}

// RequireSession rejects requests that Middleware did not authenticate.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := Principal(c); !ok {
			msg := "Session token required. Include the '" + HeaderToken + "' header."
			if TokenFrom(c) != "" {
				msg = ErrInvalidSession.Error()
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": msg,
			})
			return
		}
		c.Next()
	}
}

// Principal returns the authenticated principal, if any.
func Principal(c *gin.Context) (string, bool) {
	v, ok := c.Get(contextKeyPrincipal)
	if !ok {
		return "", false
	}
	p, ok := v.(string)
	return p, ok && p != ""
}

// Token returns the raw token that authenticated the request.
func Token(c *gin.Context) string {
	return c.GetString(contextKeyToken)
}

// IsAuthError reports whether err should be answered with 401.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrNoSession) || errors.Is(err, ErrInvalidSession)
}
