package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/rpattn/mapsync/internal/domain"
)

// ErrNoToken is returned when a request carries no credential at all.
var ErrNoToken = errors.New("no authentication token provided")

// TokenResolver turns a caller's credential into an identity.
type TokenResolver interface {
	Resolve(token string) (domain.Actor, error)
}

// JWTResolver validates HS256 tokens whose claims carry the user id in "sub"
// and the display name in "name".
type JWTResolver struct {
	secret []byte
}

// NewJWTResolver creates a resolver over a shared HMAC secret.
func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret)}
}

// Resolve parses and validates the token and extracts the identity claims.
func (r *JWTResolver) Resolve(token string) (domain.Actor, error) {
	if token == "" {
		return domain.Actor{}, ErrNoToken
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil {
		return domain.Actor{}, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return domain.Actor{}, errors.New("invalid token claims")
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return domain.Actor{}, errors.New("token has no subject")
	}
	userID, err := uuid.Parse(subject)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("token subject is not a user id: %w", err)
	}

	name := ""
	if raw, ok := claims["name"].(string); ok {
		name = raw
	}

	return domain.Actor{UserID: userID, DisplayName: name}, nil
}

// TokenFromRequest extracts the credential from the query string (websocket
// clients cannot set headers) or the Authorization header.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if header := r.Header.Get("Authorization"); header != "" {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// SignToken mints a token for the given identity. Used by tests and tooling;
// session issuance itself lives outside this service.
func SignToken(secret string, actor domain.Actor) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  actor.UserID.String(),
		"name": actor.DisplayName,
	})
	return token.SignedString([]byte(secret))
}
