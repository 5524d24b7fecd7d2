package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("some_secret")

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestJWTVerifier_Verify(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()

	tcases := []struct {
		name     string
		token    string
		expected string
		err      bool
	}{
		{
			name:     "user-id claim",
			token:    sign(t, jwt.SigningMethodHS256, testKey, jwt.MapClaims{"user-id": "alice", "exp": exp}),
			expected: "alice",
		},
		{
			name: "nested user._id claim",
			token: sign(t, jwt.SigningMethodHS256, testKey, jwt.MapClaims{
				"user": map[string]interface{}{"_id": "64b7f0c2e1", "email": "a@example.com"},
				"exp":  exp,
			}),
			expected: "64b7f0c2e1",
		},
		{
			name:     "sub claim",
			token:    sign(t, jwt.SigningMethodHS256, testKey, jwt.MapClaims{"sub": "bob", "exp": exp}),
			expected: "bob",
		},
		{
			name:     "numeric user-id claim",
			token:    sign(t, jwt.SigningMethodHS256, testKey, jwt.MapClaims{"user-id": 42, "exp": exp}),
			expected: "42",
		},
		{
			name:  "empty token",
			token: "",
			err:   true,
		},
		{
			name:  "garbage",
			token: "not-a-token",
			err:   true,
		},
		{
			name:  "wrong key",
			token: sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"user-id": "alice", "exp": exp}),
			err:   true,
		},
		{
			name:  "expired",
			token: sign(t, jwt.SigningMethodHS256, testKey, jwt.MapClaims{"user-id": "alice", "exp": time.Now().Add(-time.Minute).Unix()}),
			err:   true,
		},
		{
			name:  "missing identity",
			token: sign(t, jwt.SigningMethodHS256, testKey, jwt.MapClaims{"exp": exp}),
			err:   true,
		},
		{
			name:  "unsigned",
			token: sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{"user-id": "alice"}),
			err:   true,
		},
	}

	v := NewJWTVerifier(testKey)
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			userId, err := v.Verify(context.Background(), tc.token)
			if tc.err {
				assert.ErrorIs(t, err, ErrInvalidToken)
				assert.Empty(t, userId)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, userId)
		})
	}
}

func TestNewToken(t *testing.T) {
	token, err := NewToken(testKey, "carol", time.Minute)
	require.NoError(t, err)

	userId, err := NewJWTVerifier(testKey).Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "carol", userId)
}
