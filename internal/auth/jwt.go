package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ProfileClaims is the cached profile kept in the {role}_profile cookie.
type ProfileClaims struct {
	UserID     string `json:"user_id"`
	Role       string `json:"role"`
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	SchoolID   string `json:"school_id,omitempty"`
	SchoolName string `json:"school_name,omitempty"`
	Subdomain  string `json:"subdomain,omitempty"`
	jwt.RegisteredClaims
}

func NewProfileToken(secret, issuer string, ttl time.Duration, claims ProfileClaims) (string, error) {
	if secret == "" {
		return "", errors.New("missing_profile_secret")
	}
	now := time.Now().UTC()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.UserID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseProfileToken(secret, issuer, tokenString string) (*ProfileClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if issuer != "" {
		options = append(options, jwt.WithIssuer(issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &ProfileClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, options...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*ProfileClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
