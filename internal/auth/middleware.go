package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const sessionKey = "session"

// Session is the caller identity handed explicitly to everything that talks to the backend.
// Token is the raw bearer token, forwarded as-is.
type Session struct {
	Subject     string
	Role        string
	InstituteID string
	Token       string
}

// Middleware enforces bearer JWT tokens signed with HS256 and stores the Session on the context.
func Middleware(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		SetSession(c, Session{
			Subject:     claims.Subject,
			Role:        claims.Role,
			InstituteID: claims.InstituteID,
			Token:       tokenStr,
		})
		c.Next()
	}
}

// SetSession stores s on the request context.
func SetSession(c *gin.Context, s Session) {
	c.Set(sessionKey, s)
}

// FromContext returns the session set by Middleware.
func FromContext(c *gin.Context) (Session, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return Session{}, false
	}
	s, ok := v.(Session)
	return s, ok
}
