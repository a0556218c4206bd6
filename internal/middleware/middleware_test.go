package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"passgate/internal/auth"
	apperrors "passgate/internal/errors"
	"passgate/internal/logger"
)

type stubValidator map[string]*auth.Claims

func (s stubValidator) ValidateAndDecodeToken(token string) (*auth.Claims, error) {
	if c, ok := s[token]; ok {
		return c, nil
	}
	return nil, apperrors.ErrUnauthorized
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", handlers...)
	return r
}

func TestBearerAuth(t *testing.T) {
	validator := stubValidator{"good": {UserID: "u-1", Role: auth.RoleOperator}}

	var gotUser, gotCtxUser string
	r := newRouter(BearerAuth(validator), func(c *gin.Context) {
		gotUser, _ = UserID(c)
		gotCtxUser, _ = logger.UserIDFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"invalid token", "Bearer bad", http.StatusUnauthorized},
		{"valid token", "Bearer good", http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}

	assert.Equal(t, "u-1", gotUser)
	assert.Equal(t, "u-1", gotCtxUser)
}

func TestRequireRole(t *testing.T) {
	validator := stubValidator{
		"op":   {UserID: "u-1", Role: auth.RoleOperator},
		"cust": {UserID: "u-2", Role: auth.RoleCustomer},
	}
	r := newRouter(BearerAuth(validator), RequireRole(auth.RoleOperator, auth.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for token, want := range map[string]int{"op": http.StatusOK, "cust": http.StatusForbidden} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		r.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code, token)
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	r := newRouter(RequestID(), func(c *gin.Context) {
		seen, _ = logger.RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestRecovery(t *testing.T) {
	r := newRouter(Recovery(), func(c *gin.Context) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
