package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/user/guesswho/internal/apperrors"
)

// Player is the stable identity the lobby core operates on.
type Player struct {
	ID          string
	DisplayName string
}

// Resolver maps an authenticated caller to a player identity.
type Resolver interface {
	Resolve(ctx context.Context, token string) (Player, error)
}

// playerClaims is the internal claims type used for token parsing.
type playerClaims struct {
	jwt.RegisteredClaims
	DisplayName string `json:"display_name"`
}

// TokenResolver verifies HMAC-signed player tokens issued by the
// account service.
type TokenResolver struct {
	secret []byte
}

// NewTokenResolver creates a resolver for the given shared secret.
func NewTokenResolver(secret string) *TokenResolver {
	return &TokenResolver{secret: []byte(secret)}
}

// Resolve validates the token and returns the player it names.
// Anything anonymous, expired or malformed maps to ErrUnauthorized.
func (r *TokenResolver) Resolve(ctx context.Context, token string) (Player, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Player{}, apperrors.ErrUnauthorized
	}

	var claims playerClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return Player{}, apperrors.ErrUnauthorized
	}
	if claims.Subject == "" {
		return Player{}, apperrors.ErrUnauthorized
	}

	name := claims.DisplayName
	if name == "" {
		// Accounts without a linked music profile fall back to their
		// account subject as display name.
		name = claims.Subject
	}
	return Player{ID: claims.Subject, DisplayName: name}, nil
}

// Issue signs a token for the given player. The account service is
// the production issuer; this is used by tooling and tests.
func (r *TokenResolver) Issue(p Player, ttl time.Duration) (string, error) {
	if p.ID == "" {
		return "", errors.New("player id is required")
	}
	now := time.Now()
	claims := playerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		DisplayName: p.DisplayName,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}
