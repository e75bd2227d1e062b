// Package auth validates the bearer credential a client presents when it
// opens a streaming connection. Tokens are not refreshed mid-connection; an
// expired session reconnects with a fresh token.
package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/parleychat/relay/internal/domain"
)

// ErrUnauthorized is fatal to the connection: the caller must close it
// without registering anything.
var ErrUnauthorized = errors.New("unauthorized")

const accessTokenKind = "access"

// Claims mirrors the access-token payload issued by the account service.
// Refresh tokens carry type "refresh" and must not open connections.
type Claims struct {
	Email     string `json:"email"`
	TokenKind string `json:"type"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Authenticate resolves the connection credential from the handshake request.
// The "token" query parameter (handshake metadata) takes precedence over an
// Authorization header.
func (a *Authenticator) Authenticate(r *http.Request) (domain.User, error) {
	credential := credentialFromRequest(r)
	if credential == "" {
		return domain.User{}, ErrUnauthorized
	}
	return a.Verify(credential)
}

// Verify checks the signature, the token kind and the identifying claims.
func (a *Authenticator) Verify(credential string) (domain.User, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(credential, claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !token.Valid {
		return domain.User{}, ErrUnauthorized
	}
	if claims.TokenKind != accessTokenKind {
		return domain.User{}, ErrUnauthorized
	}
	if claims.Subject == "" || claims.Email == "" {
		return domain.User{}, ErrUnauthorized
	}
	return domain.User{ID: domain.UserID(claims.Subject), Email: claims.Email}, nil
}

func credentialFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if authorization == "" {
		return ""
	}
	parts := strings.SplitN(authorization, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(strings.TrimSpace(parts[0]), "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
