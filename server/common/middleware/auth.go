// Package middleware holds the gin middleware guarding the local API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chatsync/server/common/transport/httpresp"
)

const (
	ContextUserID = "auth_user_id"
	ContextRole   = "auth_role"
)

type tokenAuth interface {
	ParseAuthContext(token string) (userID, role string, err error)
}

// AuthRequired admits requests carrying a valid local API token and stores
// its user and role on the context.
func AuthRequired(auth tokenAuth) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrMissingBearerToken))
			return
		}
		userID, role, err := auth.ParseAuthContext(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidToken))
			return
		}
		c.Set(ContextUserID, userID)
		c.Set(ContextRole, role)
		c.Next()
	}
}

// RequireUser only admits tokens issued to userID, the session owner. It
// must run after AuthRequired.
func RequireUser(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if current, ok := CurrentUser(c); !ok || current != userID {
			c.AbortWithStatusJSON(http.StatusForbidden, httpresp.NewErrorResponse(httpresp.ErrForbidden))
			return
		}
		c.Next()
	}
}

// CurrentUser returns the user id set by AuthRequired.
func CurrentUser(c *gin.Context) (string, bool) {
	userID := c.GetString(ContextUserID)
	return userID, userID != ""
}

// bearerToken accepts the scheme in any case, as RFC 6750 allows.
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
