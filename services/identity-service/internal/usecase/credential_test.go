package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vfms/fleet-identity-api/services/identity-service/internal/config"
	"github.com/vfms/fleet-identity-api/services/identity-service/internal/model"
	"github.com/vfms/fleet-identity-api/services/identity-service/internal/repository"
	"github.com/vfms/fleet-identity-api/services/identity-service/internal/token"
	"github.com/vfms/fleet-identity-api/shared/auth"
	"github.com/vfms/fleet-identity-api/shared/security"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeNotifier struct {
	mu                 sync.Mutex
	verificationTokens map[string]string
	otps               map[string]string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		verificationTokens: make(map[string]string),
		otps:               make(map[string]string),
	}
}

func (n *fakeNotifier) SendVerificationEmail(email, _, verificationToken string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verificationTokens[email] = verificationToken
	return nil
}

func (n *fakeNotifier) SendPasswordResetOTP(email, _, otp string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.otps[email] = otp
	return nil
}

func (n *fakeNotifier) lastVerificationToken(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.verificationTokens[email]
}

func (n *fakeNotifier) lastOTP(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.otps[email]
}

type testEnv struct {
	repo          repository.UserRepository
	notifier      *fakeNotifier
	clock         *testClock
	credentials   CredentialUsecase
	passwordReset PasswordResetUsecase
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.IdentityServiceConfig{
		Token: config.TokenConfig{
			Issuer:                     "fleet-identity-test",
			AccessTokenSecret:          "access-secret",
			RefreshTokenSecret:         "refresh-secret",
			AccessTokenExpiresIn:       15 * time.Minute,
			RefreshTokenExpiresIn:      168 * time.Hour,
			VerificationTokenExpiresIn: 24 * time.Hour,
			PasswordResetOTPExpiresIn:  15 * time.Minute,
		},
	}

	clock := newTestClock()
	repo := repository.NewUserInMemoryRepository()
	notifier := newFakeNotifier()
	logger := zerolog.Nop()

	jwtAuth := auth.NewJWTAuthenticator(cfg.Token.Issuer, cfg.Token.Issuer)
	issuer := token.NewIssuer(jwtAuth, &cfg.Token, clock.Now)

	return &testEnv{
		repo:          repo,
		notifier:      notifier,
		clock:         clock,
		credentials:   NewCredentialUsecase(repo, issuer, notifier, cfg, &logger, clock.Now),
		passwordReset: NewPasswordResetUsecase(repo, issuer, notifier, cfg, &logger, clock.Now),
	}
}

func (e *testEnv) signupSelf(t *testing.T, name, email, password string) *model.User {
	t.Helper()

	err := e.credentials.SignupSelf(context.Background(), SignupSelfParams{
		Name:     name,
		Email:    email,
		Password: password,
	})
	require.NoError(t, err)

	user, err := e.repo.GetUserByEmail(context.Background(), email)
	require.NoError(t, err)
	return user
}

func (e *testEnv) activeUser(t *testing.T, name, email, password string) *model.User {
	t.Helper()

	user := e.signupSelf(t, name, email, password)
	err := e.credentials.SetPassword(context.Background(), user.Verification.Token, password)
	require.NoError(t, err)

	user, err = e.repo.GetUserByEmail(context.Background(), email)
	require.NoError(t, err)
	return user
}

func TestSignupSelf_CreatesUnverifiedUserWithToken(t *testing.T) {
	env := newTestEnv(t)

	user := env.signupSelf(t, "Jane", "jane@x.com", "Sup3rSecret!")

	assert.Equal(t, model.StateUnverified, user.State())
	assert.False(t, user.EmailVerified)
	assert.Equal(t, model.RoleStaff, user.Role)
	require.NotNil(t, user.Verification)
	assert.NotEmpty(t, user.Verification.Token)
	assert.False(t, user.Verification.ExpiredAt(env.clock.Now()))
	assert.Equal(t, env.clock.Now().Add(24*time.Hour), user.Verification.ExpiresAt)
	assert.Equal(t, user.Verification.Token, env.notifier.lastVerificationToken("jane@x.com"))
	assert.NotEmpty(t, user.PasswordHash)
	assert.NotContains(t, user.PasswordHash, "Sup3rSecret!")
}

func TestSignupSelf_DuplicateEmailLeavesExistingRecordUntouched(t *testing.T) {
	env := newTestEnv(t)

	existing := env.signupSelf(t, "Jane", "jane@x.com", "Sup3rSecret!")

	err := env.credentials.SignupSelf(context.Background(), SignupSelfParams{
		Name:     "Impostor",
		Email:    "Jane@X.com",
		Password: "Another1!",
	})
	require.ErrorIs(t, err, ErrDuplicateEmail)

	unchanged, err := env.repo.GetUserByEmail(context.Background(), "jane@x.com")
	require.NoError(t, err)
	assert.Equal(t, existing.Name, unchanged.Name)
	assert.Equal(t, existing.PasswordHash, unchanged.PasswordHash)
	assert.Equal(t, existing.Verification.Token, unchanged.Verification.Token)
}

func TestSignupAdmin_GeneratedPasswordAuthenticatesImmediately(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.credentials.SignupAdmin(context.Background(), SignupAdminParams{
		Name:  "Jane",
		Email: "jane@x.com",
		Phone: "0711234567",
		Role:  model.RoleStaff,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.GeneratedPassword)
	assert.True(t, result.User.EmailVerified)
	assert.True(t, result.User.PasswordChangeRequired)
	assert.Equal(t, model.StateActive, result.User.State())

	authResult, err := env.credentials.Authenticate(context.Background(), "jane@x.com", result.GeneratedPassword)
	require.NoError(t, err)
	assert.True(t, authResult.User.PasswordChangeRequired)
	assert.NotEmpty(t, authResult.Tokens.AccessToken)
	assert.NotEmpty(t, authResult.Tokens.RefreshToken)
}

func TestSignupAdmin_DuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.signupSelf(t, "Jane", "jane@x.com", "Sup3rSecret!")

	_, err := env.credentials.SignupAdmin(context.Background(), SignupAdminParams{
		Name:  "Jane Again",
		Email: "jane@x.com",
		Role:  model.RoleDriver,
	})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestVerifyEmail_RetainsTokenForSetPassword(t *testing.T) {
	env := newTestEnv(t)
	user := env.signupSelf(t, "Jane", "jane@x.com", "Sup3rSecret!")

	require.NoError(t, env.credentials.VerifyEmail(context.Background(), user.Verification.Token))

	// Pure validation: the slot must still be populated afterwards.
	after, err := env.repo.GetUserByEmail(context.Background(), "jane@x.com")
	require.NoError(t, err)
	require.NotNil(t, after.Verification)
	assert.Equal(t, user.Verification.Token, after.Verification.Token)
	assert.False(t, after.EmailVerified)
}

func TestVerifyEmail_UnknownToken(t *testing.T) {
	env := newTestEnv(t)

	err := env.credentials.VerifyEmail(context.Background(), "no-such-token")
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)
}

func TestVerifyEmail_ExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	user := env.signupSelf(t, "Jane", "jane@x.com", "Sup3rSecret!")

	env.clock.Advance(24 * time.Hour) // exactly at expiry counts as expired

	err := env.credentials.VerifyEmail(context.Background(), user.Verification.Token)
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)
}

func TestSetPassword_ActivatesAndClearsSlot(t *testing.T) {
	env := newTestEnv(t)
	user := env.signupSelf(t, "Jane", "jane@x.com", "Initial1!")

	require.NoError(t, env.credentials.SetPassword(context.Background(), user.Verification.Token, "NewPass1!"))

	after, err := env.repo.GetUserByEmail(context.Background(), "jane@x.com")
	require.NoError(t, err)
	assert.Equal(t, model.StateActive, after.State())
	assert.True(t, after.EmailVerified)
	assert.Nil(t, after.Verification)

	match, err := security.VerifyPassword("NewPass1!", after.PasswordHash)
	require.NoError(t, err)
	assert.True(t, match)
}

func TestSetPassword_ExpiredTokenDoesNotMutatePassword(t *testing.T) {
	env := newTestEnv(t)
	user := env.signupSelf(t, "Jane", "jane@x.com", "Initial1!")

	env.clock.Advance(25 * time.Hour)

	err := env.credentials.SetPassword(context.Background(), user.Verification.Token, "NewPass1!")
	require.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	after, err := env.repo.GetUserByEmail(context.Background(), "jane@x.com")
	require.NoError(t, err)
	assert.Equal(t, user.PasswordHash, after.PasswordHash)
	assert.False(t, after.EmailVerified)
}

func TestSetPassword_TokenIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	user := env.signupSelf(t, "Jane", "jane@x.com", "Initial1!")

	require.NoError(t, env.credentials.SetPassword(context.Background(), user.Verification.Token, "NewPass1!"))

	err := env.credentials.SetPassword(context.Background(), user.Verification.Token, "Different1!")
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)
}

func TestAuthenticate_SameErrorForUnknownEmailAndWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.activeUser(t, "Jane", "jane@x.com", "Sup3rSecret!")

	_, unknownErr := env.credentials.Authenticate(context.Background(), "nobody@x.com", "Sup3rSecret!")
	_, wrongErr := env.credentials.Authenticate(context.Background(), "jane@x.com", "WrongPass1!")

	assert.ErrorIs(t, unknownErr, ErrInvalidCredentials)
	assert.ErrorIs(t, wrongErr, ErrInvalidCredentials)
	assert.Equal(t, unknownErr.Error(), wrongErr.Error())
}

func TestAuthenticate_UnverifiedEmail(t *testing.T) {
	env := newTestEnv(t)
	env.signupSelf(t, "Jane", "jane@x.com", "Sup3rSecret!")

	_, err := env.credentials.Authenticate(context.Background(), "jane@x.com", "Sup3rSecret!")
	assert.ErrorIs(t, err, ErrEmailNotVerified)
}

func TestAuthenticate_EmailIsCaseInsensitive(t *testing.T) {
	env := newTestEnv(t)
	env.activeUser(t, "Jane", "jane@x.com", "Sup3rSecret!")

	result, err := env.credentials.Authenticate(context.Background(), "JANE@X.COM", "Sup3rSecret!")
	require.NoError(t, err)
	assert.Equal(t, "jane@x.com", result.User.Email)
}

func TestChangePassword_ClearsForcedRotationFlag(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.credentials.SignupAdmin(context.Background(), SignupAdminParams{
		Name:  "Jane",
		Email: "jane@x.com",
		Role:  model.RoleStaff,
	})
	require.NoError(t, err)

	require.NoError(t, env.credentials.ChangePassword(context.Background(), result.User.ID, "MyOwnPass1!"))

	after, err := env.repo.GetUser(context.Background(), result.User.ID)
	require.NoError(t, err)
	assert.False(t, after.PasswordChangeRequired)

	authResult, err := env.credentials.Authenticate(context.Background(), "jane@x.com", "MyOwnPass1!")
	require.NoError(t, err)
	assert.False(t, authResult.User.PasswordChangeRequired)

	_, err = env.credentials.Authenticate(context.Background(), "jane@x.com", result.GeneratedPassword)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestChangePassword_UnknownUser(t *testing.T) {
	env := newTestEnv(t)

	err := env.credentials.ChangePassword(context.Background(), "missing-id", "NewPass1!")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
