package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/npezzotti/chat-gateway/internal/server"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func (s *GatewayApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Error("panic", zap.Error(panicError), zap.String("path", r.URL.Path))
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// authMiddleware resolves the caller's identity with the identity service.
// Requests without a valid token never reach next.
func (s *GatewayApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userId, err := s.identify(r)
		if err != nil {
			s.log.Debug("rejected token", zap.String("path", r.URL.Path), zap.Error(err))
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
		next(w, r.WithContext(WithUserId(r.Context(), userId)))
	}
}

// identify returns the verified identity behind the request's token.
func (s *GatewayApp) identify(r *http.Request) (string, error) {
	userId, err := s.verifier.Verify(r.Context(), tokenFromRequest(r))
	if err != nil {
		return "", fmt.Errorf("%w: %w", server.ErrHandshakeRejected, err)
	}
	return userId, nil
}

// relayAuthMiddleware admits internal callers presenting the relay key.
// The last key that passed the bcrypt check is remembered so that steady
// traffic skips the hash.
func (s *GatewayApp) relayAuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := []byte(r.Header.Get(relayKeyHeader))
		if len(key) == 0 || !s.relayKeyValid(key) {
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		next(w, r)
	}
}

func (s *GatewayApp) relayKeyValid(key []byte) bool {
	if known, ok := s.relayKey.Load().([]byte); ok && subtle.ConstantTimeCompare(known, key) == 1 {
		return true
	}

	if err := bcrypt.CompareHashAndPassword(s.relayKeyHash, key); err != nil {
		s.log.Warn("invalid relay key")
		return false
	}

	s.relayKey.Store(key)
	return true
}
