package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type staticAuth map[string]string

func (a staticAuth) ParseAuthContext(token string) (string, string, error) {
	userID, ok := a[token]
	if !ok {
		return "", "", errors.New("bad token")
	}
	return userID, "owner", nil
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", AuthRequired(staticAuth{"t1": "u1", "t2": "u2"}), RequireUser("u1"), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextUserID))
	})
	return r
}

func TestAuthRequired(t *testing.T) {
	r := newRouter()
	cases := []struct {
		header string
		status int
	}{
		{"", http.StatusUnauthorized},
		{"Basic abc", http.StatusUnauthorized},
		{"Bearer nope", http.StatusUnauthorized},
		{"Bearer t2", http.StatusForbidden},
		{"Bearer ", http.StatusUnauthorized},
		{"Bearer t1", http.StatusOK},
		{"bearer  t1", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, tc.status, w.Code, tc.header)
	}
}
