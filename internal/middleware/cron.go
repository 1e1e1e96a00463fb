package middleware

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	"github.com/jidokhae/backend/pkg/response"
)

// CronSecret guards scheduled triggers with a shared bearer secret. An empty secret
// rejects every request.
func CronSecret(secret string) gin.HandlerFunc {
	want := []byte(secret)
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok || len(want) == 0 || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			response.Unauthorized(c, "unauthorized")
			c.Abort()
			return
		}
		c.Next()
	}
}
