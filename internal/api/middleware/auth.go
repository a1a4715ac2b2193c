package middleware

import (
	"context"
	"net/http"
	"strings"

	"visaconnect-relay/pkg/response"

	"github.com/gin-gonic/gin"
)

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (string, error)
}

type AuthMiddleware struct {
	verifier TokenVerifier
}

func NewAuthMiddleware(verifier TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
	}
}

// RequireAuth rejects requests without a valid bearer token and stores the
// caller's id under "user_id".
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Error(c, http.StatusUnauthorized, response.ErrCodeUnauthorized, "authorization header is required")
			return
		}

		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenString == "" {
			response.Error(c, http.StatusUnauthorized, response.ErrCodeUnauthorized, "authorization header must be a bearer token")
			return
		}

		userID, err := am.verifier.VerifyToken(c.Request.Context(), tokenString)
		if err != nil {
			response.Error(c, http.StatusUnauthorized, response.ErrCodeUnauthorized, "invalid token")
			return
		}

		c.Set("user_id", userID)
		c.Next()
	}
}

// UserID returns the caller set by RequireAuth.
func UserID(c *gin.Context) string {
	return c.GetString("user_id")
}
