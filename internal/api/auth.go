package api

import (
	"context"
	"net/http"
	"strings"
)

const (
	tokenCookieKey = "token"
	tokenQueryKey  = "token"
	relayKeyHeader = "X-Relay-Key"
)

type contextKey string

const userIdKey contextKey = "user-id"

func WithUserId(ctx context.Context, userId string) context.Context {
	return context.WithValue(ctx, userIdKey, userId)
}

func UserId(ctx context.Context) (string, bool) {
	userId, ok := ctx.Value(userIdKey).(string)
	return userId, ok && userId != ""
}

// tokenFromRequest looks for the identity token in the query string, then
// the Authorization header, then the token cookie. Browsers cannot set
// headers on a websocket handshake, hence the query parameter.
func tokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get(tokenQueryKey); token != "" {
		return token
	}

	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}

	if cookie, err := r.Cookie(tokenCookieKey); err == nil {
		return cookie.Value
	}

	return ""
}
