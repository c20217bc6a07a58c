package vault

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the contents of an amebo bearer token.
type Claims struct {
	Scheme   string `json:"scheme"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Tokenize mints an HS256-signed token over {scheme, username, iat}.
func (v *Vault) Tokenize(scheme, username string) (string, error) {
	var claims = Claims{
		Scheme:   scheme,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	var token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}

// Untokenize verifies a bearer token and returns its claims.
func (v *Vault) Untokenize(token string) (*Claims, error) {
	var claims Claims
	var _, err = jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, ErrUnauthorized
	}
	return &claims, nil
}
