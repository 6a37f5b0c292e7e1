package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fonsecaaso/linkpulse/go-server/internal/authz"
	"github.com/fonsecaaso/linkpulse/go-server/internal/model"
	"github.com/fonsecaaso/linkpulse/go-server/internal/token"
)

const (
	principalKey = "principal"
	claimsKey    = "claims"
)

var (
	ErrMissingToken = errors.New("missing authorization header")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(tokens *token.Manager) gin.HandlerFunc {
	return authenticate(tokens, true)
}

// OptionalAuth attaches a principal when a valid bearer token is present and
// lets the request through anonymously otherwise. A malformed or expired
// token is still rejected.
func OptionalAuth(tokens *token.Manager) gin.HandlerFunc {
	return authenticate(tokens, false)
}

func authenticate(tokens *token.Manager, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" && !required {
			c.Next()
			return
		}
		if !strings.HasPrefix(auth, "Bearer ") {
			abortUnauthorized(c, ErrMissingToken, "MISSING_TOKEN")
			return
		}

		claims, err := tokens.ValidateToken(strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			abortUnauthorized(c, ErrInvalidToken, "INVALID_TOKEN")
			return
		}

		role, err := model.ParseRole(claims.Role)
		if err != nil {
			abortUnauthorized(c, ErrInvalidToken, "INVALID_TOKEN")
			return
		}

		c.Set(claimsKey, claims)
		c.Set(principalKey, &authz.Principal{UserID: *claims.UserID, Role: role})
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, err error, code string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":      err.Error(),
		"code":       code,
		"request_id": GetRequestID(c),
	})
}

// PrincipalFrom returns the caller set by the auth middleware, or nil for
// anonymous requests.
func PrincipalFrom(c *gin.Context) *authz.Principal {
	value, exists := c.Get(principalKey)
	if !exists {
		return nil
	}
	p, _ := value.(*authz.Principal)
	return p
}

// GetUserIDFromContext returns the authenticated user id, or nil.
func GetUserIDFromContext(c *gin.Context) *uuid.UUID {
	return PrincipalFrom(c).Owner()
}

func GetClaimsFromContext(c *gin.Context) (*token.CustomClaims, error) {
	value, exists := c.Get(claimsKey)
	if !exists {
		return nil, errors.New("claims not found in context")
	}

	claims, ok := value.(*token.CustomClaims)
	if !ok {
		return nil, errors.New("invalid claims type in context")
	}

	return claims, nil
}
