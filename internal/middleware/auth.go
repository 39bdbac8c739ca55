package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/alarm-service/pkg/auth"
)

const ContextDeviceID = "deviceID"

type AuthMiddleware struct {
	jwt auth.JWTService
}

func NewAuthMiddleware(jwt auth.JWTService) *AuthMiddleware {
	return &AuthMiddleware{jwt: jwt}
}

// Authenticate verifies the device token and sets the device id in context.
// The token is read from the Authorization header, or from the token query
// parameter for websocket upgrades, which cannot carry headers from a
// browser.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			abortWithError(c, http.StatusUnauthorized, "missing authorization header")
			return
		}

		claims, err := m.jwt.ValidateToken(token)
		if err != nil {
			abortWithError(c, http.StatusUnauthorized, "invalid token")
			return
		}

		c.Set(ContextDeviceID, claims.DeviceID)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := c.Query("token"); token != "" {
		return token, true
	}
	return "", false
}
