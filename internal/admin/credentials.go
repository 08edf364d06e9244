package admin

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/kozaktomas/attendance-terminal/internal/config"
)

// ErrInvalidCredential is returned when an administrator fails to authenticate.
var ErrInvalidCredential = errors.New("incorrect email or password")

// Credentials verifies the administrator account.
type Credentials struct {
	email string
	hash  []byte
}

// NewCredentials creates credentials from configuration. An empty hash
// rejects every password.
func NewCredentials(cfg config.AdminConfig) *Credentials {
	return &Credentials{email: strings.TrimSpace(cfg.Email), hash: []byte(cfg.PasswordHash)}
}

// Configured reports whether an administrator account exists.
func (c *Credentials) Configured() bool {
	return c != nil && len(c.hash) > 0
}

// Email returns the administrator email.
func (c *Credentials) Email() string {
	if c == nil {
		return ""
	}
	return c.email
}

// Verify checks an email and password pair. An empty email checks the
// password alone, as used for re-authentication of a signed-in session.
func (c *Credentials) Verify(email, password string) error {
	if !c.Configured() || password == "" {
		return ErrInvalidCredential
	}
	if email != "" && !strings.EqualFold(strings.TrimSpace(email), c.email) {
		return ErrInvalidCredential
	}
	if err := bcrypt.CompareHashAndPassword(c.hash, []byte(password)); err != nil {
		return ErrInvalidCredential
	}
	return nil
}

// HashPassword returns a bcrypt hash suitable for ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
