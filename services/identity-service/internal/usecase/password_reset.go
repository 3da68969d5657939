package usecase

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/vfms/fleet-identity-api/services/identity-service/internal/config"
	"github.com/vfms/fleet-identity-api/services/identity-service/internal/model"
	"github.com/vfms/fleet-identity-api/services/identity-service/internal/repository"
	"github.com/vfms/fleet-identity-api/services/identity-service/internal/token"
	"github.com/vfms/fleet-identity-api/shared/security"
)

// PasswordResetUsecase defines the password recovery transitions of the
// credential lifecycle.
type PasswordResetUsecase interface {
	// ForgotPassword issues a fresh OTP into the reset slot, overwriting and
	// thereby invalidating any outstanding one, and notifies the user.
	ForgotPassword(ctx context.Context, email string) error

	// VerifyResetCode checks the OTP without consuming it.
	VerifyResetCode(ctx context.Context, email, code string) error

	// ResetPassword re-validates the OTP, sets the new password, and clears
	// the reset slot in one transition.
	ResetPassword(ctx context.Context, email, code, newPassword string) error
}

type passwordResetUsecase struct {
	userRepo repository.UserRepository
	issuer   *token.Issuer
	notifier Notifier
	cfg      *config.IdentityServiceConfig
	logger   *zerolog.Logger
	now      func() time.Time
}

// NewPasswordResetUsecase creates a new instance of PasswordResetUsecase.
// The now function is the lifecycle clock; pass nil for time.Now.
func NewPasswordResetUsecase(
	userRepo repository.UserRepository,
	issuer *token.Issuer,
	notifier Notifier,
	cfg *config.IdentityServiceConfig,
	logger *zerolog.Logger,
	now func() time.Time,
) PasswordResetUsecase {
	if now == nil {
		now = time.Now
	}

	return &passwordResetUsecase{
		userRepo: userRepo,
		issuer:   issuer,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      now,
	}
}

func (u *passwordResetUsecase) ForgotPassword(ctx context.Context, email string) error {
	otp, err := u.issuer.NumericOTP()
	if err != nil {
		return err
	}

	var user *model.User
	err = retryOnConflict(ctx, func(ctx context.Context) error {
		user, err = u.userRepo.GetUserByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return ErrEmailNotFound
			}
			return err
		}

		user.Reset = &model.TokenSlot{
			Token:     otp,
			ExpiresAt: u.now().Add(u.cfg.Token.PasswordResetOTPExpiresIn),
		}

		_, err = u.userRepo.Save(ctx, user)
		return err
	})
	if err != nil {
		return err
	}

	if err := u.notifier.SendPasswordResetOTP(user.Email, user.Name, otp); err != nil {
		u.logger.Error().Err(err).Str("user_id", user.ID).Msg("failed to send password reset code")
	}

	return nil
}

func (u *passwordResetUsecase) VerifyResetCode(ctx context.Context, email, code string) error {
	user, err := u.lookupForReset(ctx, email)
	if err != nil {
		return err
	}

	return u.checkResetCode(user, code)
}

func (u *passwordResetUsecase) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	passwordHash, err := security.HashPassword(newPassword)
	if err != nil {
		return err
	}

	return retryOnConflict(ctx, func(ctx context.Context) error {
		user, err := u.lookupForReset(ctx, email)
		if err != nil {
			return err
		}

		// Expiry and code are re-checked at consumption time; a prior
		// VerifyResetCode call proves nothing by now.
		if err := u.checkResetCode(user, code); err != nil {
			return err
		}

		user.PasswordHash = passwordHash
		user.Reset = nil

		_, err = u.userRepo.Save(ctx, user)
		return err
	})
}

// lookupForReset maps an unknown email to ErrInvalidOTP so the reset check
// paths never disclose whether an address is registered.
func (u *passwordResetUsecase) lookupForReset(ctx context.Context, email string) (*model.User, error) {
	user, err := u.userRepo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidOTP
		}
		return nil, err
	}
	return user, nil
}

func (u *passwordResetUsecase) checkResetCode(user *model.User, code string) error {
	if user.Reset == nil {
		return ErrInvalidOTP
	}
	if subtle.ConstantTimeCompare([]byte(user.Reset.Token), []byte(code)) != 1 {
		return ErrInvalidOTP
	}
	if user.Reset.ExpiredAt(u.now()) {
		return ErrOTPExpired
	}
	return nil
}
