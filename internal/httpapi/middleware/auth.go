// Package middleware holds the gin middleware chain for the engine's HTTP
// surface. Auth here is deliberately thin: spec.md §1 scopes out
// registration, login, and OAuth — only enough principal extraction to
// identify the caller for intake/status/retry/list. Grounded on the
// teacher's internal/http/middleware/auth.go for the bearer-token
// extraction shape and abort-with-envelope style, without its full
// AuthService (session refresh, SSE-context attachment, forbidden-vs-
// unauthorized split for a non-existent-but-well-formed session).
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/corwinhq/taskforge/internal/platform/logger"
)

const principalContextKey = "principal_id"

type PrincipalClaims struct {
	jwt.RegisteredClaims
}

type Auth struct {
	log       *logger.Logger
	secretKey string
}

func NewAuth(secretKey string, baseLog *logger.Logger) *Auth {
	return &Auth{log: baseLog.With("component", "AuthMiddleware"), secretKey: secretKey}
}

// RequireAuth extracts and verifies a bearer JWT, then stores the token's
// subject claim (parsed as a uuid.UUID) as the request's principal id.
// A missing, malformed, or unparsable-as-uuid subject is unauthorized.
func (a *Auth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractBearerToken(c)
		if tokenString == "" {
			a.abortUnauthorized(c, "missing or invalid token")
			return
		}

		claims := &PrincipalClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			return []byte(a.secretKey), nil
		})
		if err != nil || !token.Valid {
			a.abortUnauthorized(c, "invalid token")
			return
		}

		principalID, err := uuid.Parse(claims.Subject)
		if err != nil || principalID == uuid.Nil {
			a.abortUnauthorized(c, "invalid token subject")
			return
		}

		c.Set(principalContextKey, principalID)
		c.Next()
	}
}

func (a *Auth) abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": message,
		"code":  "AUTH_REQUIRED",
	})
}

func extractBearerToken(c *gin.Context) string {
	if qToken := c.Query("token"); qToken != "" {
		return qToken
	}
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return ""
}

// PrincipalID retrieves the principal id set by RequireAuth. Handlers
// should only ever be reached after RequireAuth has run, so the second
// return value is for defensive callers (e.g. tests wiring a handler
// directly).
func PrincipalID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(principalContextKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
