package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vfms/fleet-identity-api/services/identity-service/internal/config"
	"github.com/vfms/fleet-identity-api/services/identity-service/internal/model"
	"github.com/vfms/fleet-identity-api/shared/auth"
)

// Kind distinguishes access from refresh session tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// ErrWrongTokenKind is returned when a valid token of one kind is presented
// where the other kind is required.
var ErrWrongTokenKind = errors.New("wrong session token kind")

// SessionClaims are the self-contained claims embedded in every session
// token. Subject carries the user id.
type SessionClaims struct {
	Role string `json:"role"`
	Kind Kind   `json:"kind"`
	jwt.RegisteredClaims
}

// Pair is an access/refresh session token pair.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// Issuer generates the credentials handed out by the lifecycle: opaque
// verification tokens, numeric OTPs, generated temporary passwords, and
// signed session token pairs.
type Issuer struct {
	jwtAuth  auth.JWTAuthenticator
	tokenCfg *config.TokenConfig
	now      func() time.Time
}

// NewIssuer creates an Issuer backed by the given token configuration.
func NewIssuer(jwtAuth auth.JWTAuthenticator, tokenCfg *config.TokenConfig, now func() time.Time) *Issuer {
	if now == nil {
		now = time.Now
	}

	return &Issuer{
		jwtAuth:  jwtAuth,
		tokenCfg: tokenCfg,
		now:      now,
	}
}

// OpaqueToken returns a cryptographically random hex token, unique with
// overwhelming probability.
func (i *Issuer) OpaqueToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// NumericOTP returns a zero-padded 6-digit code, uniform over 000000-999999,
// drawn from a cryptographically secure source.
func (i *Issuer) NumericOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

const tempPasswordAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789!#%+"

// TempPassword returns a generated password for admin-issued accounts. The
// plaintext is disclosed exactly once, in the signup response.
func (i *Issuer) TempPassword() (string, error) {
	const length = 12

	password := make([]byte, length)
	for idx := range password {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(tempPasswordAlphabet))))
		if err != nil {
			return "", err
		}
		password[idx] = tempPasswordAlphabet[n.Int64()]
	}

	return string(password), nil
}

// SessionTokens mints an access/refresh pair for the given user. Each token
// carries subject, role, kind and expiry, and verifies without a store
// lookup.
func (i *Issuer) SessionTokens(userID string, role model.Role) (*Pair, error) {
	accessToken, err := i.mint(userID, role, KindAccess, i.tokenCfg.AccessTokenSecret, i.tokenCfg.AccessTokenExpiresIn)
	if err != nil {
		return nil, err
	}

	refreshToken, err := i.mint(userID, role, KindRefresh, i.tokenCfg.RefreshTokenSecret, i.tokenCfg.RefreshTokenExpiresIn)
	if err != nil {
		return nil, err
	}

	return &Pair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// VerifySessionToken validates a session token of the expected kind and
// returns its claims. It fails closed on expired, malformed, badly signed,
// or wrong-kind input.
func (i *Issuer) VerifySessionToken(tokenString string, kind Kind) (*SessionClaims, error) {
	secret := i.tokenCfg.AccessTokenSecret
	if kind == KindRefresh {
		secret = i.tokenCfg.RefreshTokenSecret
	}

	claims := &SessionClaims{}
	if _, err := i.jwtAuth.ValidateTokenWithClaims(tokenString, secret, claims); err != nil {
		return nil, err
	}

	if claims.Kind != kind {
		return nil, ErrWrongTokenKind
	}

	return claims, nil
}

func (i *Issuer) mint(userID string, role model.Role, kind Kind, secret string, expiresIn time.Duration) (string, error) {
	now := i.now()
	claims := SessionClaims{
		Role: string(role),
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.tokenCfg.Issuer,
			Audience:  jwt.ClaimStrings{i.tokenCfg.Issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	}

	return i.jwtAuth.GenerateToken(claims, secret)
}
