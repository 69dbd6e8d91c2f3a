// Package auth resolves request credentials to exactly one organization.
// Two credential kinds exist: the organization's rotating shared API token
// (agent calls) and a signed, time-limited session token (operator calls).
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/wrenhq/fleetwatch/pkg/db"
	"github.com/wrenhq/fleetwatch/pkg/models"
)

// ErrUnauthorized is the single rejection outcome for every failed
// credential check. Callers get no detail about which check failed.
var ErrUnauthorized = errors.New("unauthorized")

const defaultTimeout = 5 * time.Second

// Principal is a resolved caller identity. UserID and Username are empty
// when the caller authenticated with an organization token.
type Principal struct {
	OrgID    string
	UserID   string
	Username string
}

type Auth struct {
	config *models.AuthConfig
	db     db.Service
}

func NewAuth(config *models.AuthConfig, database db.Service) *Auth {
	return &Auth{config: config, db: database}
}

// Resolve maps the presented credentials to one organization. The org token
// path is tried first (exact match against the current token only; rotated
// tokens no longer resolve), then the session token path. Everything else is
// ErrUnauthorized.
func (a *Auth) Resolve(ctx context.Context, orgToken, sessionToken string) (*Principal, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if orgToken != "" {
		org, err := a.db.GetOrganizationByToken(ctx, orgToken)
		if err == nil {
			return &Principal{OrgID: org.ID}, nil
		}

		if !errors.Is(err, db.ErrOrgNotFound) {
			return nil, fmt.Errorf("resolve org token: %w", err)
		}
	}

	if sessionToken != "" {
		claims, err := ParseJWT(sessionToken, a.config.JWTSecret)
		if err == nil && claims.OrgID != "" {
			return &Principal{
				OrgID:    claims.OrgID,
				UserID:   claims.UserID,
				Username: claims.Username,
			}, nil
		}
	}

	return nil, ErrUnauthorized
}

// LoginLocal checks a username/password pair against the users table and
// issues a session token bound to the user's organization. Unknown users
// and wrong passwords are indistinguishable to the caller.
func (a *Auth) LoginLocal(ctx context.Context, username, password string) (*models.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	user, err := a.db.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return nil, ErrUnauthorized
		}

		return nil, fmt.Errorf("login: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrUnauthorized
	}

	expiration := time.Duration(a.config.JWTExpiration)
	if expiration == 0 {
		expiration = 24 * time.Hour
	}

	signed, expiresAt, err := GenerateJWT(user, a.config.JWTSecret, expiration)
	if err != nil {
		return nil, fmt.Errorf("login: sign token: %w", err)
	}

	return &models.Token{AccessToken: signed, ExpiresAt: expiresAt}, nil
}
