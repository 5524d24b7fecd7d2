package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserId(t *testing.T) {
	tcases := []struct {
		name     string
		ctx      context.Context
		userId   string
		expected bool
	}{
		{
			name:     "no user ID",
			ctx:      context.Background(),
			expected: false,
		},
		{
			name:     "empty user ID",
			ctx:      WithUserId(context.Background(), ""),
			expected: false,
		},
		{
			name:     "user ID set",
			ctx:      WithUserId(context.Background(), "alice"),
			userId:   "alice",
			expected: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			userId, ok := UserId(tc.ctx)
			assert.Equal(t, tc.expected, ok)
			assert.Equal(t, tc.userId, userId)
		})
	}
}

func Test_tokenFromRequest(t *testing.T) {
	tcases := []struct {
		name     string
		setup    func(r *http.Request)
		expected string
	}{
		{
			name:     "query parameter",
			setup:    func(r *http.Request) { r.URL.RawQuery = "token=from-query" },
			expected: "from-query",
		},
		{
			name:     "bearer header",
			setup:    func(r *http.Request) { r.Header.Set("Authorization", "Bearer from-header") },
			expected: "from-header",
		},
		{
			name:     "cookie",
			setup:    func(r *http.Request) { r.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "from-cookie"}) },
			expected: "from-cookie",
		},
		{
			name: "query wins over header",
			setup: func(r *http.Request) {
				r.URL.RawQuery = "token=from-query"
				r.Header.Set("Authorization", "Bearer from-header")
			},
			expected: "from-query",
		},
		{
			name:     "non bearer header is ignored",
			setup:    func(r *http.Request) { r.Header.Set("Authorization", "Basic dXNlcjpwYXNz") },
			expected: "",
		},
		{
			name:     "nothing",
			setup:    func(r *http.Request) {},
			expected: "",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			tc.setup(req)
			assert.Equal(t, tc.expected, tokenFromRequest(req))
		})
	}
}
