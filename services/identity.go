package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"mocha-rewards/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// IdentityLocalsKey is the fiber Locals key holding the caller's Identity.
const IdentityLocalsKey = "identity"

var (
	ErrNoToken      = errors.New("authentication token missing")
	ErrInvalidToken = errors.New("invalid authentication token")
)

// Identity is the verified caller: a lower-cased wallet address taken from the token's sub claim.
type Identity struct {
	Wallet string
}

// IdentityFromCtx returns the identity attached by the auth middleware.
func IdentityFromCtx(c *fiber.Ctx) (Identity, bool) {
	id, ok := c.Locals(IdentityLocalsKey).(Identity)
	return id, ok && id.Wallet != ""
}

// TokenVerifier validates HS256 bearer tokens issued by the identity provider.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify checks signature and expiry and extracts the wallet. The wallet is read from
// "sub", falling back to "address" for tokens minted by the socket client.
func (v *TokenVerifier) Verify(raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, ErrNoToken
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	wallet, _ := claims.GetSubject()
	if wallet == "" {
		wallet, _ = claims["address"].(string)
	}
	if !common.IsHexAddress(wallet) {
		return Identity{}, fmt.Errorf("%w: wallet claim %q", ErrInvalidToken, wallet)
	}
	return Identity{Wallet: models.NormalizeAddress(wallet)}, nil
}

// Issue signs a token for wallet. Used by the dev-token command and tests; production
// tokens come from the identity provider.
func (v *TokenVerifier) Issue(wallet string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   wallet,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
