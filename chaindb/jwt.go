package chaindb

import (
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// TokenClaims is the diagnostic view of an auth token issued as a jwt.
// The token is never verified client side.
type TokenClaims struct {
	Database  string
	User      string
	IssuedAt  time.Time
	ExpiresAt time.Time
	// all claims as parsed
	Claims gojwt.MapClaims
}

func ParseTokenClaimsUnverified(authToken string) (*TokenClaims, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(authToken, gojwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotJwt, err)
	}

	claims := token.Claims.(gojwt.MapClaims)

	tokenClaims := &TokenClaims{
		Claims: claims,
	}

	if database, ok := claims["database"].(string); ok {
		tokenClaims.Database = database
	}
	if user, ok := claims["user"].(string); ok {
		tokenClaims.User = user
	} else if sub, err := claims.GetSubject(); err == nil {
		tokenClaims.User = sub
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		tokenClaims.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		tokenClaims.ExpiresAt = exp.Time
	}

	return tokenClaims, nil
}

// parses the session token when the server issues jwts.
// returns `ErrTokenNotJwt` otherwise
func (self *Session) TokenClaims() (*TokenClaims, error) {
	return ParseTokenClaimsUnverified(self.authToken)
}
