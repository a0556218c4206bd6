package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	apperrors "passgate/internal/errors"
)

// Roles
const (
	RoleCustomer = "CUSTOMER"
	RoleOperator = "OPERATOR"
	RoleIssuer   = "ISSUER"
	RoleAdmin    = "ADMIN"
)

// Claims - данные пользователя из токена
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenValidator проверяет bearer-токен и извлекает claims
type TokenValidator interface {
	ValidateAndDecodeToken(token string) (*Claims, error)
}

// JWTValidator validates HS256 tokens signed with a shared secret.
type JWTValidator struct {
	secret []byte
}

func NewJWTValidator(secret string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret)}
}

func (v *JWTValidator) ValidateAndDecodeToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", apperrors.ErrUnauthorized)
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
	}
	if !token.Valid {
		return nil, apperrors.ErrUnauthorized
	}

	// sub is accepted when the issuer does not set user_id
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: token has no subject", apperrors.ErrUnauthorized)
	}

	return claims, nil
}
