package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/crypto/bcrypt"

	"github.com/morezero/rpc-dispatch/pkg/bootstrap"
)

const logPrefix = "auth:basic"

// ErrInvalidCredentials is returned for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("auth:basic - invalid credentials")

// BasicAuthenticator checks HTTP Basic credentials against bootstrap users.
type BasicAuthenticator struct {
	users map[string]bootstrap.BootstrapUser
}

// NewBasicAuthenticator indexes users by name.
func NewBasicAuthenticator(users []bootstrap.BootstrapUser) *BasicAuthenticator {
	a := &BasicAuthenticator{users: make(map[string]bootstrap.BootstrapUser, len(users))}
	for _, u := range users {
		a.users[u.Username] = u
	}
	return a
}

// Authenticate returns the caller for valid credentials.
func (a *BasicAuthenticator) Authenticate(username, password string) (*Caller, error) {
	u, ok := a.users[username]
	if !ok || u.PasswordHash == "" {
		slog.Debug(fmt.Sprintf("%s - unknown user %q", logPrefix, username))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		slog.Debug(fmt.Sprintf("%s - password mismatch for %q", logPrefix, username))
		return nil, ErrInvalidCredentials
	}
	return &Caller{
		Username:    u.Username,
		Superuser:   u.Superuser,
		Permissions: slices.Clone(u.Permissions),
		Groups:      slices.Clone(u.Groups),
	}, nil
}

// Len returns the number of known users.
func (a *BasicAuthenticator) Len() int {
	return len(a.users)
}

// HashPassword hashes a password for a bootstrap file. A cost of 0 selects
// bcrypt.DefaultCost.
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("%s - hash password: %w", logPrefix, err)
	}
	return string(h), nil
}
