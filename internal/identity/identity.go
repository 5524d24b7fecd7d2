// Package identity verifies the tokens clients present at handshake. Tokens
// are issued by the external identity service.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

var ErrInvalidToken = errors.New("invalid token")

type Verifier interface {
	// Verify returns the identity the token was issued for.
	Verify(ctx context.Context, token string) (string, error)
}

const (
	userIdClaim = "user-id"
	userClaim   = "user"
	expClaim    = "exp"
)

// JWTVerifier accepts HS256 tokens carrying the identity in a user._id,
// user-id or sub claim.
type JWTVerifier struct {
	key []byte
}

func NewJWTVerifier(key []byte) *JWTVerifier {
	return &JWTVerifier{key: key}
}

func (v *JWTVerifier) Verify(_ context.Context, tokenString string) (string, error) {
	if tokenString == "" {
		return "", fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.key, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("%w: invalid claims", ErrInvalidToken)
	}

	userId := userIdFromClaims(claims)
	if userId == "" {
		return "", fmt.Errorf("%w: missing user id claim", ErrInvalidToken)
	}

	return userId, nil
}

func userIdFromClaims(claims jwt.MapClaims) string {
	if user, ok := claims[userClaim].(map[string]interface{}); ok {
		if id := claimString(user["_id"]); id != "" {
			return id
		}
	}
	if id := claimString(claims[userIdClaim]); id != "" {
		return id
	}
	return claimString(claims["sub"])
}

func claimString(v interface{}) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	default:
		return ""
	}
}

// NewToken signs an HS256 token for userId. The gateway never issues
// tokens to clients; this exists for tooling and tests.
func NewToken(key []byte, userId string, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: userId,
		expClaim:    time.Now().Add(exp).Unix(),
	})

	return token.SignedString(key)
}
