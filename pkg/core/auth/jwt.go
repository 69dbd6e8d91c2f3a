package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/wrenhq/fleetwatch/pkg/models"
)

var errUnexpectedSigningMethod = errors.New("unexpected signing method")

// Claims are the session token claims. The organization id is fixed at
// issuance; changing organizations requires a fresh login.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	OrgID    string `json:"org_id"`
	jwt.RegisteredClaims
}

// GenerateJWT signs a session token for the user with HS256.
func GenerateJWT(user *models.User, secret string, expiration time.Duration) (string, time.Time, error) {
	expiresAt := time.Now().Add(expiration)

	claims := Claims{
		UserID:   user.ID,
		Username: user.Username,
		OrgID:    user.OrgID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, expiresAt, nil
}

// ParseJWT verifies the signature and expiry and returns the claims. Any
// failure mode (bad signature, expired, malformed, wrong algorithm) is
// reported the same way; callers must not leak which check failed.
func ParseJWT(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errUnexpectedSigningMethod
		}

		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrSignatureInvalid
}
