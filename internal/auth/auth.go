// Package auth verifies bearer tokens issued by the auth service and exposes
// the caller's identity to handlers.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/joao-fontenele/shoplite/internal/apperror"
	"github.com/joao-fontenele/shoplite/internal/httpio"
)

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleAdmin    Role = "ADMIN"
)

// Identity is the authenticated caller. Workflows receive it as an explicit
// argument.
type Identity struct {
	UserID string
	Email  string
	Role   Role
}

type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()),
	}
}

func (v *Verifier) Verify(token string) (Identity, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, apperror.Wrap(apperror.KindNotAuthorized, err, "invalid token")
	}
	if claims.UserID == "" {
		return Identity{}, apperror.NotAuthorized("token has no user")
	}
	return Identity{UserID: claims.UserID, Email: claims.Email, Role: claims.Role}, nil
}

// Sign issues a token for id. The auth service owns issuance; this exists for
// local tooling and tests.
func (v *Verifier) Sign(id Identity, claims jwt.RegisteredClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:           id.UserID,
		Email:            id.Email,
		Role:             id.Role,
		RegisteredClaims: claims,
	})
	s, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// Require wraps h so it only runs for callers holding one of roles. ADMIN is
// accepted everywhere.
func (v *Verifier) Require(logger *slog.Logger, h http.HandlerFunc, roles ...Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			httpio.WriteError(w, r, logger, apperror.NotAuthorized("missing bearer token"))
			return
		}

		id, err := v.Verify(token)
		if err != nil {
			httpio.WriteError(w, r, logger, err)
			return
		}

		if !hasRole(id.Role, roles) {
			httpio.WriteError(w, r, logger, apperror.NotAuthorized("role %s is not allowed", id.Role))
			return
		}

		h(w, r.WithContext(WithIdentity(r.Context(), id)))
	}
}

func hasRole(role Role, allowed []Role) bool {
	if role == RoleAdmin || len(allowed) == 0 {
		return true
	}
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

// MustIdentity returns the identity placed by Require.
func MustIdentity(ctx context.Context) (Identity, error) {
	id, ok := FromContext(ctx)
	if !ok {
		return Identity{}, apperror.NotAuthorized("no authenticated user")
	}
	return id, nil
}
