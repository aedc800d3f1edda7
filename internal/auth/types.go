package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// TokenHeader is the request header carrying the session token.
const TokenHeader = "x-auth-token"

// Errors
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrMissingToken       = errors.New("no auth token found, please login")
	ErrInvalidToken       = errors.New("invalid auth token")
	ErrMissingFields      = errors.New("username and password are required")
)

// Credentials is the login and registration request body.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Store persists user accounts.
type Store interface {
	// Register creates a user and returns its id.
	Register(ctx context.Context, name, password string) (uuid.UUID, error)

	// Authenticate returns the id of the user with matching credentials.
	Authenticate(ctx context.Context, name, password string) (uuid.UUID, error)

	// Exists returns ErrUserNotFound if id is unknown.
	Exists(ctx context.Context, id uuid.UUID) error

	// Delete removes the user.
	Delete(ctx context.Context, id uuid.UUID) error
}

type claimsKey struct{}

// WithClaims returns a context carrying claims.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromContext returns the claims stored by Middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}
