package token

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vfms/fleet-identity-api/services/identity-service/internal/config"
	"github.com/vfms/fleet-identity-api/services/identity-service/internal/model"
	"github.com/vfms/fleet-identity-api/shared/auth"
)

func newTestIssuer(now func() time.Time) *Issuer {
	cfg := &config.TokenConfig{
		Issuer:                "fleet-identity-test",
		AccessTokenSecret:     "access-secret",
		RefreshTokenSecret:    "refresh-secret",
		AccessTokenExpiresIn:  15 * time.Minute,
		RefreshTokenExpiresIn: 168 * time.Hour,
	}

	jwtAuth := auth.NewJWTAuthenticator(cfg.Issuer, cfg.Issuer)
	return NewIssuer(jwtAuth, cfg, now)
}

func TestOpaqueToken_UniqueAndUnguessable(t *testing.T) {
	issuer := newTestIssuer(nil)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := issuer.OpaqueToken()
		require.NoError(t, err)
		assert.Len(t, tok, 64)
		assert.False(t, seen[tok], "token repeated")
		seen[tok] = true
	}
}

func TestNumericOTP_Format(t *testing.T) {
	issuer := newTestIssuer(nil)
	pattern := regexp.MustCompile(`^[0-9]{6}$`)

	for i := 0; i < 200; i++ {
		otp, err := issuer.NumericOTP()
		require.NoError(t, err)
		assert.True(t, pattern.MatchString(otp), "unexpected OTP %q", otp)
	}
}

func TestTempPassword_Length(t *testing.T) {
	issuer := newTestIssuer(nil)

	password, err := issuer.TempPassword()
	require.NoError(t, err)
	assert.Len(t, password, 12)
}

func TestSessionTokens_RoundTrip(t *testing.T) {
	issuer := newTestIssuer(nil)

	pair, err := issuer.SessionTokens("user-1", model.RoleApprover)
	require.NoError(t, err)

	accessClaims, err := issuer.VerifySessionToken(pair.AccessToken, KindAccess)
	require.NoError(t, err)
	assert.Equal(t, "user-1", accessClaims.Subject)
	assert.Equal(t, "APPROVER", accessClaims.Role)
	assert.Equal(t, KindAccess, accessClaims.Kind)

	refreshClaims, err := issuer.VerifySessionToken(pair.RefreshToken, KindRefresh)
	require.NoError(t, err)
	assert.Equal(t, KindRefresh, refreshClaims.Kind)
}

func TestVerifySessionToken_RejectsWrongKind(t *testing.T) {
	issuer := newTestIssuer(nil)

	pair, err := issuer.SessionTokens("user-1", model.RoleStaff)
	require.NoError(t, err)

	// A refresh token must not pass where an access token is expected, and
	// vice versa; the secrets differ, so the signature check fails first.
	_, err = issuer.VerifySessionToken(pair.RefreshToken, KindAccess)
	assert.Error(t, err)

	_, err = issuer.VerifySessionToken(pair.AccessToken, KindRefresh)
	assert.Error(t, err)
}

func TestVerifySessionToken_RejectsExpired(t *testing.T) {
	past := func() time.Time { return time.Now().Add(-2 * time.Hour) }
	issuer := newTestIssuer(past)

	pair, err := issuer.SessionTokens("user-1", model.RoleStaff)
	require.NoError(t, err)

	_, err = issuer.VerifySessionToken(pair.AccessToken, KindAccess)
	assert.Error(t, err)
}

func TestVerifySessionToken_RejectsTampered(t *testing.T) {
	issuer := newTestIssuer(nil)

	pair, err := issuer.SessionTokens("user-1", model.RoleStaff)
	require.NoError(t, err)

	tampered := pair.AccessToken[:len(pair.AccessToken)-2] + "xx"
	_, err = issuer.VerifySessionToken(tampered, KindAccess)
	assert.Error(t, err)

	_, err = issuer.VerifySessionToken("not-a-jwt", KindAccess)
	assert.Error(t, err)
}
