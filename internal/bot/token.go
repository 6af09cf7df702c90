package bot

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	errs "github.com/chatmux/chatmux/internal/errors"
)

// TokenExpiry decodes an upstream access token without verifying its
// signature and returns its expiry. The gateway is not the token's
// audience; it only needs the lifetime.
func TokenExpiry(accessToken string) (time.Time, error) {
	var claims jwt.RegisteredClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(accessToken, &claims); err != nil {
		return time.Time{}, errs.WrapBotError(errs.KindAccessTokenInvalid, err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errs.NewBotError(errs.KindAccessTokenInvalid, "token has no exp claim")
	}
	return claims.ExpiresAt.Time, nil
}

// checkAccessToken refuses tokens that are malformed or already expired.
func checkAccessToken(accessToken string) error {
	exp, err := TokenExpiry(accessToken)
	if err != nil {
		return err
	}
	if exp.Before(time.Now()) {
		return errs.NewBotError(errs.KindAccessTokenExpired, fmt.Sprintf("token expired at %s", exp.Format(time.RFC3339)))
	}
	return nil
}
