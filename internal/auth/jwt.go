package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"moxie_companion/internal/config"
)

// ErrInvalidToken is returned for tokens that fail validation
var ErrInvalidToken = errors.New("invalid token")

// Claims are the JWT claims of a dashboard session
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// GenerateParentJWT creates a parent session token valid for cfg.Auth.TokenTTL
func GenerateParentJWT(cfg *config.Config) (string, int64, error) {
	now := time.Now()
	expiresAt := now.Add(cfg.Auth.TokenTTL)

	claims := Claims{
		Role: RoleParent,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   RoleParent.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedToken, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", 0, err
	}
	return signedToken, expiresAt.Unix(), nil
}

// ValidateJWT verifies signature, algorithm and expiry and returns the claims
func ValidateJWT(tokenString string, cfg *config.Config) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || !claims.Role.IsValid() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateParentJWT is ValidateJWT that also requires the parent role
func ValidateParentJWT(tokenString string, cfg *config.Config) (*Claims, error) {
	claims, err := ValidateJWT(tokenString, cfg)
	if err != nil {
		return nil, err
	}
	if !claims.Role.HasPermission(RoleParent) {
		return nil, fmt.Errorf("%w: parent role required", ErrInvalidToken)
	}
	return claims, nil
}
