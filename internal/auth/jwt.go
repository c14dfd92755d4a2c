package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the identity payload carried inside an access token.
type Claims struct {
	UserID    int64
	Username  string
	ExpiresAt time.Time
}

// TokenService issues and validates signed, time-bound bearer tokens.
// It is stateless: tokens are self-contained and there is no revocation list.
type TokenService struct {
	secret []byte
	method jwt.SigningMethod
	ttl    time.Duration
}

func NewTokenService(secret, algorithm string, ttl time.Duration) (*TokenService, error) {
	method := jwt.GetSigningMethod(algorithm)
	if method == nil {
		return nil, fmt.Errorf("unsupported signing algorithm: %s", algorithm)
	}
	return &TokenService{
		secret: []byte(secret),
		method: method,
		ttl:    ttl,
	}, nil
}

// Issue creates a signed token embedding the user identity with
// expiry = now + ttl.
func (s *TokenService) Issue(userID int64, username string) (string, error) {
	claims := jwt.MapClaims{
		"id":       userID,
		"username": username,
		"exp":      time.Now().Add(s.ttl).Unix(),
	}

	token := jwt.NewWithClaims(s.method, claims)
	return token.SignedString(s.secret)
}

// Validate verifies signature and expiry and returns the embedded claims.
// A malformed, tampered or expired token yields ok == false; it is never an
// exceptional condition.
func (s *TokenService) Validate(tokenString string) (*Claims, bool) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{s.method.Alg()}), jwt.WithExpirationRequired())

	if err != nil || !token.Valid {
		return nil, false
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, false
	}

	id, ok := mapClaims["id"].(float64)
	if !ok {
		return nil, false
	}
	username, ok := mapClaims["username"].(string)
	if !ok {
		return nil, false
	}

	claims := &Claims{
		UserID:   int64(id),
		Username: username,
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	return claims, true
}
