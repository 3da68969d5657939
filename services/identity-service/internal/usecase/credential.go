package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vfms/fleet-identity-api/services/identity-service/internal/config"
	"github.com/vfms/fleet-identity-api/services/identity-service/internal/model"
	"github.com/vfms/fleet-identity-api/services/identity-service/internal/repository"
	"github.com/vfms/fleet-identity-api/services/identity-service/internal/token"
	"github.com/vfms/fleet-identity-api/shared/security"
)

var (
	ErrDuplicateEmail        = errors.New("email already exists")
	ErrInvalidCredentials    = errors.New("invalid email or password")
	ErrEmailNotVerified      = errors.New("email not verified")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrUserNotFound          = errors.New("user not found")
	ErrEmailNotFound         = errors.New("email not found")

	// OTP failures are specific kinds of ErrInvalidOrExpiredToken so callers
	// can match either the uniform taxonomy or the exact cause.
	ErrInvalidOTP = fmt.Errorf("%w: invalid one-time code", ErrInvalidOrExpiredToken)
	ErrOTPExpired = fmt.Errorf("%w: one-time code has expired", ErrInvalidOrExpiredToken)
)

// Notifier is the outbound notification capability consumed by the
// credential lifecycle. Delivery is fire-and-forget from the lifecycle's
// perspective: a failure never rolls back the state transition that
// triggered the message.
type Notifier interface {
	SendVerificationEmail(email, name, verificationToken string) error
	SendPasswordResetOTP(email, name, otp string) error
}

// CredentialUsecase defines the onboarding, verification and authentication
// transitions of the credential lifecycle.
type CredentialUsecase interface {
	SignupAdmin(ctx context.Context, params SignupAdminParams) (*AdminSignupResult, error)
	SignupSelf(ctx context.Context, params SignupSelfParams) error
	VerifyEmail(ctx context.Context, verificationToken string) error
	SetPassword(ctx context.Context, verificationToken, newPassword string) error
	Authenticate(ctx context.Context, email, password string) (*AuthResult, error)
	ChangePassword(ctx context.Context, userID, newPassword string) error
}

// SignupAdminParams defines the parameters for admin-issued account creation.
type SignupAdminParams struct {
	Name  string
	Email string
	Phone string
	Role  model.Role
}

// SignupSelfParams defines the parameters for self-service registration.
type SignupSelfParams struct {
	Name     string
	Email    string
	Password string
}

// AdminSignupResult carries the created user and the generated plaintext
// password. The plaintext is disclosed here exactly once and never stored.
type AdminSignupResult struct {
	User              *model.User
	GeneratedPassword string
}

// AuthResult carries the session token pair and the authenticated user.
type AuthResult struct {
	Tokens *token.Pair
	User   *model.User
}

type credentialUsecase struct {
	userRepo  repository.UserRepository
	issuer    *token.Issuer
	notifier  Notifier
	cfg       *config.IdentityServiceConfig
	logger    *zerolog.Logger
	now       func() time.Time
	dummyHash string
}

// NewCredentialUsecase creates a new instance of CredentialUsecase. The now
// function is the lifecycle clock; pass nil for time.Now.
func NewCredentialUsecase(
	userRepo repository.UserRepository,
	issuer *token.Issuer,
	notifier Notifier,
	cfg *config.IdentityServiceConfig,
	logger *zerolog.Logger,
	now func() time.Time,
) CredentialUsecase {
	if now == nil {
		now = time.Now
	}

	// Verified against unknown emails so lookup misses and hash mismatches
	// take comparable time.
	dummyHash, err := security.HashPassword(uuid.NewString())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare password hasher")
	}

	return &credentialUsecase{
		userRepo:  userRepo,
		issuer:    issuer,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger,
		now:       now,
		dummyHash: dummyHash,
	}
}

const saveAttempts = 3

// retryOnConflict re-runs the whole read-validate-write sequence when the
// store reports a concurrent modification. Re-reading means a racing token
// consumer observes the slot already cleared and fails validation instead of
// double-spending the token.
func retryOnConflict(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < saveAttempts; attempt++ {
		err = fn(ctx)
		if !errors.Is(err, repository.ErrConflict) {
			return err
		}
	}
	return err
}

func (u *credentialUsecase) SignupAdmin(ctx context.Context, params SignupAdminParams) (*AdminSignupResult, error) {
	generatedPassword, err := u.issuer.TempPassword()
	if err != nil {
		return nil, err
	}

	passwordHash, err := security.HashPassword(generatedPassword)
	if err != nil {
		return nil, err
	}

	user, err := u.userRepo.Create(ctx, &model.User{
		ID:                     uuid.NewString(),
		Name:                   params.Name,
		Email:                  params.Email,
		Phone:                  params.Phone,
		Role:                   params.Role,
		Status:                 model.StatusActive,
		PasswordHash:           passwordHash,
		EmailVerified:          true,
		PasswordChangeRequired: true,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}

	return &AdminSignupResult{
		User:              user,
		GeneratedPassword: generatedPassword,
	}, nil
}

func (u *credentialUsecase) SignupSelf(ctx context.Context, params SignupSelfParams) error {
	passwordHash, err := security.HashPassword(params.Password)
	if err != nil {
		return err
	}

	verificationToken, err := u.issuer.OpaqueToken()
	if err != nil {
		return err
	}

	user, err := u.userRepo.Create(ctx, &model.User{
		ID:            uuid.NewString(),
		Name:          params.Name,
		Email:         params.Email,
		Role:          model.RoleStaff,
		Status:        model.StatusActive,
		PasswordHash:  passwordHash,
		EmailVerified: false,
		Verification: &model.TokenSlot{
			Token:     verificationToken,
			ExpiresAt: u.now().Add(u.cfg.Token.VerificationTokenExpiresIn),
		},
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return ErrDuplicateEmail
		}
		return err
	}

	if err := u.notifier.SendVerificationEmail(user.Email, user.Name, verificationToken); err != nil {
		u.logger.Error().Err(err).Str("user_id", user.ID).Msg("failed to send verification email")
	}

	return nil
}

func (u *credentialUsecase) VerifyEmail(ctx context.Context, verificationToken string) error {
	user, err := u.userRepo.GetUserByVerificationToken(ctx, verificationToken)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrInvalidOrExpiredToken
		}
		return err
	}

	if user.Verification.ExpiredAt(u.now()) {
		return ErrInvalidOrExpiredToken
	}

	// The token is kept: it is consumed by the follow-up SetPassword call.
	return nil
}

func (u *credentialUsecase) SetPassword(ctx context.Context, verificationToken, newPassword string) error {
	passwordHash, err := security.HashPassword(newPassword)
	if err != nil {
		return err
	}

	return retryOnConflict(ctx, func(ctx context.Context) error {
		user, err := u.userRepo.GetUserByVerificationToken(ctx, verificationToken)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return ErrInvalidOrExpiredToken
			}
			return err
		}

		if user.Verification.ExpiredAt(u.now()) {
			return ErrInvalidOrExpiredToken
		}

		user.PasswordHash = passwordHash
		user.EmailVerified = true
		user.Verification = nil

		_, err = u.userRepo.Save(ctx, user)
		return err
	})
}

func (u *credentialUsecase) Authenticate(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := u.userRepo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// Identical failure for unknown email and wrong password.
			_, _ = security.VerifyPassword(password, u.dummyHash)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if ok, err := security.VerifyPassword(password, user.PasswordHash); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrInvalidCredentials
	}

	if !user.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	tokens, err := u.issuer.SessionTokens(user.ID, user.Role)
	if err != nil {
		return nil, err
	}

	return &AuthResult{
		Tokens: tokens,
		User:   user,
	}, nil
}

func (u *credentialUsecase) ChangePassword(ctx context.Context, userID, newPassword string) error {
	passwordHash, err := security.HashPassword(newPassword)
	if err != nil {
		return err
	}

	return retryOnConflict(ctx, func(ctx context.Context) error {
		user, err := u.userRepo.GetUser(ctx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		user.PasswordHash = passwordHash
		user.PasswordChangeRequired = false

		_, err = u.userRepo.Save(ctx, user)
		return err
	})
}
