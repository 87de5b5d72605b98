package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"contro/cms/schema"

	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
)

type JwtManager struct {
	auth *jwtauth.JWTAuth
}

func NewJwtManager(secret []byte) *JwtManager {
	return &JwtManager{auth: jwtauth.New("HS256", secret, nil)}
}

func (m *JwtManager) Verifier() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return jwtauth.Verifier(m.auth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
		}))
	}
}

func (m *JwtManager) Authenticator() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return jwtauth.Authenticator(m.auth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
		}))
	}
}

const userIdKey = "user_id"

func (m *JwtManager) CreateUserJwt(userId uuid.UUID) (string, error) {
	claims := map[string]interface{}{
		userIdKey: userId.String(),
		"exp":     time.Now().Add(15 * time.Minute),
	}
	_, token, err := m.auth.Encode(claims)
	if err != nil {
		slog.Error("error generating jwt", "error", err)
		return "", fmt.Errorf("error generating access token: %w", err)
	}
	return token, nil
}

func userIdFromClaims(r *http.Request) (uuid.UUID, error) {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil {
		return uuid.Nil, fmt.Errorf("error retrieving auth claims: %w", err)
	}

	valueUncasted, ok := claims[userIdKey]
	if !ok {
		return uuid.Nil, fmt.Errorf("invalid token: unable to locate key %v in claims", userIdKey)
	}

	value, ok := valueUncasted.(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("invalid token: value for key %v has invalid type", userIdKey)
	}

	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid uuid '%v' provided: %w", value, err)
	}
	return id, nil
}

type contextKey string

const (
	userRequestContextKey       contextKey = "contro-user"
	credentialRequestContextKey contextKey = "contro-credential"
)

func ContextWithUser(ctx context.Context, user schema.User) context.Context {
	return context.WithValue(ctx, userRequestContextKey, user)
}

func ContextWithCredential(ctx context.Context, cred *Credential) context.Context {
	return context.WithValue(ctx, credentialRequestContextKey, cred)
}

func UserFromContext(r *http.Request) (schema.User, error) {
	userUntyped := r.Context().Value(userRequestContextKey)
	if userUntyped == nil {
		return schema.User{}, fmt.Errorf("user field not found in request context")
	}

	user, ok := userUntyped.(schema.User)
	if !ok {
		return schema.User{}, fmt.Errorf("user field in request context has invalid type")
	}
	return user, nil
}

// CredentialFromContext returns the scoped API credential of the request, or
// nil when the request carries a full session.
func CredentialFromContext(r *http.Request) *Credential {
	credUntyped := r.Context().Value(credentialRequestContextKey)
	if credUntyped == nil {
		return nil
	}
	cred, ok := credUntyped.(*Credential)
	if !ok {
		return nil
	}
	return cred
}
