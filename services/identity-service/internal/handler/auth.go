package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/vfms/fleet-identity-api/services/identity-service/internal/model"
	"github.com/vfms/fleet-identity-api/services/identity-service/internal/usecase"
	"github.com/vfms/fleet-identity-api/shared/middleware"
	"github.com/vfms/fleet-identity-api/shared/validation"
)

// AuthHandler exposes the credential lifecycle over HTTP.
type AuthHandler struct {
	credentials   usecase.CredentialUsecase
	passwordReset usecase.PasswordResetUsecase
	validator     *validation.Validator
	logger        *zerolog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(
	credentials usecase.CredentialUsecase,
	passwordReset usecase.PasswordResetUsecase,
	validator *validation.Validator,
	logger *zerolog.Logger,
) *AuthHandler {
	return &AuthHandler{
		credentials:   credentials,
		passwordReset: passwordReset,
		validator:     validator,
		logger:        logger,
	}
}

// Routes mounts the auth endpoints. requireAuth guards the endpoints that
// need an authenticated caller; requireAdmin additionally needs the ADMIN
// role.
func (h *AuthHandler) Routes(r chi.Router, requireAuth, requireAdmin func(http.Handler) http.Handler) {
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/signup", h.SignupSelf)
		r.Post("/login", h.Login)
		r.Get("/verify-email", h.VerifyEmail)
		r.Post("/set-password", h.SetPassword)
		r.Post("/forgot-password", h.ForgotPassword)
		r.Post("/verify-otp", h.VerifyOTP)
		r.Post("/reset-password", h.ResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/change-password", h.ChangePassword)

			r.Group(func(r chi.Router) {
				r.Use(requireAdmin)
				r.Post("/admin/signup", h.SignupAdmin)
			})
		})
	})
}

type adminSignupRequest struct {
	Name  string `json:"name"  validate:"required,min=2,max=100"`
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role"  validate:"required"`
	Phone string `json:"phone" validate:"omitempty,len=10,numeric"`
}

type adminSignupResponse struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Email             string `json:"email"`
	Role              string `json:"role"`
	GeneratedPassword string `json:"generatedPassword"`
}

func (h *AuthHandler) SignupAdmin(w http.ResponseWriter, r *http.Request) {
	var req adminSignupRequest
	if !h.decode(w, r, &req) {
		return
	}

	role := model.Role(strings.ToUpper(req.Role))
	if !role.IsValid() {
		respondError(w, http.StatusBadRequest, "invalid role")
		return
	}

	result, err := h.credentials.SignupAdmin(r.Context(), usecase.SignupAdminParams{
		Name:  req.Name,
		Email: req.Email,
		Phone: req.Phone,
		Role:  role,
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, adminSignupResponse{
		ID:                result.User.ID,
		Name:              result.User.Name,
		Email:             result.User.Email,
		Role:              string(result.User.Role),
		GeneratedPassword: result.GeneratedPassword,
	})
}

type signupRequest struct {
	Name     string `json:"name"     validate:"required,min=2,max=100"`
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

func (h *AuthHandler) SignupSelf(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.credentials.SignupSelf(r.Context(), usecase.SignupSelfParams{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	respondMessage(w, "Signup successful. Please check your email for verification.")
}

type loginRequest struct {
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	AccessToken            string `json:"accessToken"`
	RefreshToken           string `json:"refreshToken"`
	ID                     string `json:"id"`
	Name                   string `json:"name"`
	Email                  string `json:"email"`
	Role                   string `json:"role"`
	PasswordChangeRequired bool   `json:"passwordChangeRequired"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.credentials.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, loginResponse{
		AccessToken:            result.Tokens.AccessToken,
		RefreshToken:           result.Tokens.RefreshToken,
		ID:                     result.User.ID,
		Name:                   result.User.Name,
		Email:                  result.User.Email,
		Role:                   string(result.User.Role),
		PasswordChangeRequired: result.User.PasswordChangeRequired,
	})
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	verificationToken := r.URL.Query().Get("token")
	if verificationToken == "" {
		respondError(w, http.StatusBadRequest, "token is required")
		return
	}

	if err := h.credentials.VerifyEmail(r.Context(), verificationToken); err != nil {
		h.respondDomainError(w, err)
		return
	}

	respondMessage(w, "Email verified successfully")
}

type setPasswordRequest struct {
	Token    string `json:"token"    validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

func (h *AuthHandler) SetPassword(w http.ResponseWriter, r *http.Request) {
	var req setPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.credentials.SetPassword(r.Context(), req.Token, req.Password); err != nil {
		h.respondDomainError(w, err)
		return
	}

	respondMessage(w, "Password set successfully")
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.passwordReset.ForgotPassword(r.Context(), req.Email)
	if err != nil && !errors.Is(err, usecase.ErrEmailNotFound) {
		h.respondDomainError(w, err)
		return
	}

	// Unknown addresses get the same answer as known ones so this endpoint
	// cannot be used to probe which emails are registered.
	if errors.Is(err, usecase.ErrEmailNotFound) {
		h.logger.Warn().Msg("password reset requested for unknown email")
	}

	respondMessage(w, "Password reset code sent to your email")
}

type verifyOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	Token string `json:"token" validate:"required"`
}

func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.passwordReset.VerifyResetCode(r.Context(), req.Email, req.Token); err != nil {
		h.respondDomainError(w, err)
		return
	}

	respondMessage(w, "OTP verified successfully")
}

type resetPasswordRequest struct {
	Email    string `json:"email"    validate:"required,email"`
	Token    string `json:"token"    validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.passwordReset.ResetPassword(r.Context(), req.Email, req.Token, req.Password); err != nil {
		h.respondDomainError(w, err)
		return
	}

	respondMessage(w, "Password has been reset")
}

type changePasswordRequest struct {
	Password string `json:"password" validate:"required,min=8"`
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	// The subject of the validated access token decides whose password
	// changes; a user id in the body would let callers rotate other accounts.
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing authentication")
		return
	}

	userID, err := claims.GetSubject()
	if err != nil || userID == "" {
		respondError(w, http.StatusUnauthorized, "invalid token subject")
		return
	}

	if err := h.credentials.ChangePassword(r.Context(), userID, req.Password); err != nil {
		h.respondDomainError(w, err)
		return
	}

	respondMessage(w, "Password changed successfully")
}

func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}

	if err := h.validator.Validate(req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return false
	}

	return true
}

func (h *AuthHandler) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, usecase.ErrDuplicateEmail):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, usecase.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, usecase.ErrEmailNotVerified):
		respondError(w, http.StatusForbidden, "Email not verified. Please check your email.")
	case errors.Is(err, usecase.ErrInvalidOrExpiredToken):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, usecase.ErrUserNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error().Err(err).Msg("credential operation failed")
		respondError(w, http.StatusInternalServerError, "something went wrong")
	}
}
