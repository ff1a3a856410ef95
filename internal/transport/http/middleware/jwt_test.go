package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"ragchat/internal/pkg/jwtutil"
)

func newRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", AuthJWT(secret), func(c *gin.Context) {
		id, _ := c.Get(ContextUserIDKey)
		c.JSON(200, gin.H{"user_id": id})
	})
	return r
}

func TestAuthJWT(t *testing.T) {
	const secret = "s3cret"
	token, err := jwtutil.GenerateToken(secret, 7, "alice", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	r := newRouter(secret)

	cases := []struct {
		name   string
		url    string
		header string
		want   int
	}{
		{"header", "/me", "Bearer " + token, http.StatusOK},
		{"query", "/me?token=" + token, "", http.StatusOK},
		{"missing", "/me", "", http.StatusUnauthorized},
		{"wrong scheme", "/me", "Basic " + token, http.StatusUnauthorized},
		{"bad token", "/me?token=nope", "", http.StatusUnauthorized},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodGet, c.url, nil)
		if c.header != "" {
			req.Header.Set("Authorization", c.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != c.want {
			t.Errorf("%s: status = %d, want %d", c.name, w.Code, c.want)
		}
	}
}
