package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jidokhae/backend/internal/auth"
	"github.com/jidokhae/backend/internal/models"
	"github.com/jidokhae/backend/pkg/response"
)

const (
	// ContextUserID is the key for user ID (uuid.UUID) in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for user role (models.Role) in gin context.
	ContextUserRole = "user_role"
	// ContextClaims is the key for the full *auth.Claims.
	ContextClaims = "claims"
)

// JWT returns a middleware that validates the bearer token and sets the principal in context.
// When allowQuery is set, a ?token= query parameter is accepted (websocket upgrades cannot
// carry headers from browsers).
func JWT(jwtService *auth.JWTService, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok && allowQuery {
			token = c.Query("token")
			ok = token != ""
		}
		if !ok {
			response.Unauthorized(c, "missing or invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserRole, claims.Role)
		c.Set(ContextClaims, claims)
		c.Next()
	}
}

// Principal returns the authenticated user id and role set by JWT.
func Principal(c *gin.Context) (uuid.UUID, models.Role) {
	id, _ := c.Get(ContextUserID)
	role, _ := c.Get(ContextUserRole)
	uid, _ := id.(uuid.UUID)
	r, _ := role.(models.Role)
	return uid, r
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
