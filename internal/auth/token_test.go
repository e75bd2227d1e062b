package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/parleychat/relay/internal/domain"
)

const testSecret = "test-access-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func accessToken(t *testing.T, userID string) string {
	return signToken(t, testSecret, jwt.MapClaims{
		"sub":   userID,
		"email": "user@example.com",
		"type":  "access",
	})
}

func TestVerifyValidToken(t *testing.T) {
	a := NewAuthenticator(testSecret)
	user, err := a.Verify(accessToken(t, "u1"))
	require.NoError(t, err)
	require.Equal(t, domain.User{ID: "u1", Email: "user@example.com"}, user)
}

func TestVerifyRejectsRefreshKind(t *testing.T) {
	a := NewAuthenticator(testSecret)
	token := signToken(t, testSecret, jwt.MapClaims{"sub": "u1", "email": "user@example.com", "type": "refresh"})
	_, err := a.Verify(token)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyRejectsMissingClaims(t *testing.T) {
	a := NewAuthenticator(testSecret)

	noSub := signToken(t, testSecret, jwt.MapClaims{"email": "user@example.com", "type": "access"})
	_, err := a.Verify(noSub)
	require.ErrorIs(t, err, ErrUnauthorized)

	noEmail := signToken(t, testSecret, jwt.MapClaims{"sub": "u1", "type": "access"})
	_, err = a.Verify(noEmail)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	a := NewAuthenticator(testSecret)
	token := signToken(t, "other-secret", jwt.MapClaims{"sub": "u1", "email": "user@example.com", "type": "access"})
	_, err := a.Verify(token)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	a := NewAuthenticator(testSecret)
	token := signToken(t, testSecret, jwt.MapClaims{
		"sub":   "u1",
		"email": "user@example.com",
		"type":  "access",
		"exp":   time.Now().Add(-time.Minute).Unix(),
	})
	_, err := a.Verify(token)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthenticateFromQuery(t *testing.T) {
	a := NewAuthenticator(testSecret)
	r := httptest.NewRequest("GET", "/api/ws/chat?token="+accessToken(t, "u1"), nil)
	user, err := a.Authenticate(r)
	require.NoError(t, err)
	require.Equal(t, domain.UserID("u1"), user.ID)
}

func TestAuthenticateFromBearerHeader(t *testing.T) {
	a := NewAuthenticator(testSecret)
	r := httptest.NewRequest("GET", "/api/ws/chat", nil)
	r.Header.Set("Authorization", "Bearer "+accessToken(t, "u1"))
	user, err := a.Authenticate(r)
	require.NoError(t, err)
	require.Equal(t, domain.UserID("u1"), user.ID)
}

func TestAuthenticateQueryTakesPrecedence(t *testing.T) {
	a := NewAuthenticator(testSecret)
	r := httptest.NewRequest("GET", "/api/ws/chat?token=garbage", nil)
	r.Header.Set("Authorization", "Bearer "+accessToken(t, "u1"))
	_, err := a.Authenticate(r)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthenticateMissingCredential(t *testing.T) {
	a := NewAuthenticator(testSecret)
	r := httptest.NewRequest("GET", "/api/ws/chat", nil)
	_, err := a.Authenticate(r)
	require.ErrorIs(t, err, ErrUnauthorized)

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	_, err = a.Authenticate(r)
	require.ErrorIs(t, err, ErrUnauthorized)
}
