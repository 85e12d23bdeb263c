package jwt

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const (
	// RoleOperator marks tokens allowed to act across tenants.
	RoleOperator = "operator"

	issuer = "versionlifecycle"
	leeway = 30 * time.Second
)

// ErrMissingUser is returned when a token would not identify its user.
var ErrMissingUser = errors.New("jwt: user id required")

// Claims is the token payload. Subject mirrors UserID.
type Claims struct {
	UserID   int64  `json:"user_id"`
	TenantID int64  `json:"tenant_id,omitempty"`
	Role     string `json:"role,omitempty"`
	jwtlib.RegisteredClaims
}

// GenerateToken signs an HS256 token for userID valid for ttl.
func GenerateToken(userID, tenantID int64, role, secret string, ttl time.Duration) (string, error) {
	if userID <= 0 {
		return "", ErrMissingUser
	}
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		TenantID: tenantID,
		Role:     role,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Parse verifies token and returns its claims. Tokens from another issuer,
// without an expiry, or whose subject disagrees with user_id are rejected.
func Parse(token string, secret string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwtlib.ParseWithClaims(token, claims, func(*jwtlib.Token) (any, error) {
		return []byte(secret), nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}),
		jwtlib.WithIssuer(issuer),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithLeeway(leeway),
	)
	if err != nil {
		return nil, err
	}
	if claims.Subject != strconv.FormatInt(claims.UserID, 10) {
		return nil, fmt.Errorf("%w: subject does not match user", jwtlib.ErrTokenInvalidClaims)
	}
	return claims, nil
}
