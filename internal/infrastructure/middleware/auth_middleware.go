package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
	"github.com/verawat1234/tchat-sub013/internal/core/ports"
	"github.com/verawat1234/tchat-sub013/pkg/logger"
)

const (
	UserIDKey   = "user_id"
	StreamIDKey = "stream_id"
	// AnonymousUserHeader names the caller when anonymous access is enabled.
	AnonymousUserHeader = "X-User-ID"
)

// BroadcastGuard decides whether a user controls a stream.
type BroadcastGuard interface {
	CheckBroadcastPermission(ctx context.Context, userID domain.UserID, streamID domain.StreamID) error
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func setUser(c *gin.Context, userID domain.UserID) {
	c.Set(UserIDKey, userID)
	c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), string(userID)))
}

// AuthMiddleware requires a valid bearer token. With allowAnonymous the
// X-User-ID header is accepted in its place.
func AuthMiddleware(auth ports.Authenticator, allowAnonymous bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			if id := c.GetHeader(AnonymousUserHeader); allowAnonymous && id != "" {
				setUser(c, domain.UserID(id))
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		userID, err := auth.Authenticate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		setUser(c, userID)
		c.Next()
	}
}

// OptionalAuthMiddleware records the caller when a valid token is present.
func OptionalAuthMiddleware(auth ports.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c); ok {
			if userID, err := auth.Authenticate(token); err == nil {
				setUser(c, userID)
			}
		}
		c.Next()
	}
}

// BroadcasterOnly restricts a stream route to the stream's broadcaster.
func BroadcasterOnly(guard BroadcastGuard) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		streamID := domain.StreamID(c.Param("id"))
		if streamID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "stream_id required"})
			return
		}

		if err := guard.CheckBroadcastPermission(c.Request.Context(), userID, streamID); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			return
		}

		c.Set(StreamIDKey, streamID)
		c.Next()
	}
}

func CurrentUser(c *gin.Context) (domain.UserID, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return "", false
	}
	userID, ok := v.(domain.UserID)
	return userID, ok && userID != ""
}
