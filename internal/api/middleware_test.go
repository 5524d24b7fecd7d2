package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/npezzotti/chat-gateway/internal/identity"
	"github.com/npezzotti/chat-gateway/internal/server"
	"github.com/npezzotti/chat-gateway/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestErrorHandler_PanicRecovery(t *testing.T) {
	logger, logs := testutil.ObservedLogger(t)
	app := &GatewayApp{log: logger}

	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("test panic"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	app.errorHandler(panicHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "close", rr.Header().Get("Connection"))
	require.Equal(t, 1, logs.FilterMessage("panic").Len())
	assert.Equal(t, "test panic", logs.FilterMessage("panic").All()[0].ContextMap()["error"])
}

func Test_errorHandler_NoPanic(t *testing.T) {
	app := &GatewayApp{log: testutil.TestLogger(t)}

	called := false
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	app.errorHandler(okHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.True(t, called, "expected handler to be called")
}

func Test_authMiddleware(t *testing.T) {
	tcases := []struct {
		name       string
		token      string
		verifyErr  error
		statusCode int
	}{
		{
			name:       "valid token",
			token:      "good",
			statusCode: http.StatusOK,
		},
		{
			name:       "invalid token",
			token:      "bad",
			verifyErr:  identity.ErrInvalidToken,
			statusCode: http.StatusUnauthorized,
		},
		{
			name:       "missing token",
			token:      "",
			verifyErr:  identity.ErrInvalidToken,
			statusCode: http.StatusUnauthorized,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			verifier := &identity.MockVerifier{}
			defer verifier.AssertExpectations(t)
			userId := ""
			if tc.verifyErr == nil {
				userId = "alice"
			}
			verifier.On("Verify", mock.Anything, tc.token).Return(userId, tc.verifyErr).Once()

			app := &GatewayApp{log: testutil.TestLogger(t), verifier: verifier}

			var gotUser string
			handler := app.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
				gotUser, _ = UserId(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			rr := httptest.NewRecorder()
			handler(rr, req)

			assert.Equal(t, tc.statusCode, rr.Code)
			if tc.statusCode == http.StatusOK {
				assert.Equal(t, "alice", gotUser)
				assert.Equal(t, "no-store, no-cache, must-revalidate, private", rr.Header().Get("Cache-Control"))
			} else {
				assert.Empty(t, gotUser, "expected handler not to run")
			}
		})
	}
}

func Test_identify(t *testing.T) {
	app := &GatewayApp{log: testutil.TestLogger(t), verifier: identity.NewJWTVerifier(testSigningKey)}

	req := httptest.NewRequest(http.MethodGet, "/ws?token="+newTestToken(t, "alice"), nil)
	userId, err := app.identify(req)
	require.NoError(t, err)
	assert.Equal(t, "alice", userId)

	req = httptest.NewRequest(http.MethodGet, "/ws?token=bogus", nil)
	_, err = app.identify(req)
	assert.ErrorIs(t, err, server.ErrHandshakeRejected)
	assert.ErrorIs(t, err, identity.ErrInvalidToken)

	_, err = app.identify(httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.ErrorIs(t, err, server.ErrHandshakeRejected)
}

func Test_relayAuthMiddleware(t *testing.T) {
	app := &GatewayApp{
		log:          testutil.TestLogger(t),
		relayKeyHash: newTestConfig(t).RelayKeyHash,
	}

	handler := app.relayAuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	tcases := []struct {
		name       string
		key        string
		statusCode int
	}{
		{name: "missing key", key: "", statusCode: http.StatusUnauthorized},
		{name: "wrong key", key: "nope", statusCode: http.StatusUnauthorized},
		{name: "valid key", key: testRelayKey, statusCode: http.StatusAccepted},
		{name: "valid key again", key: testRelayKey, statusCode: http.StatusAccepted},
		{name: "wrong key after a valid one", key: "nope", statusCode: http.StatusUnauthorized},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/internal/relay/message", nil)
			if tc.key != "" {
				req.Header.Set(relayKeyHeader, tc.key)
			}
			rr := httptest.NewRecorder()
			handler(rr, req)
			assert.Equal(t, tc.statusCode, rr.Code)
		})
	}
}
