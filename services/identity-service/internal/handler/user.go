package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/vfms/fleet-identity-api/services/identity-service/internal/model"
	"github.com/vfms/fleet-identity-api/services/identity-service/internal/repository"
)

// UserHandler exposes administrative user listing and deletion. These are
// plain CRUD actions outside the credential lifecycle itself.
type UserHandler struct {
	userRepo repository.UserRepository
	logger   *zerolog.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(userRepo repository.UserRepository, logger *zerolog.Logger) *UserHandler {
	return &UserHandler{
		userRepo: userRepo,
		logger:   logger,
	}
}

// Routes mounts the admin user endpoints behind the given middleware chain.
func (h *UserHandler) Routes(r chi.Router, requireAuth, requireAdmin func(http.Handler) http.Handler) {
	r.Route("/api/users", func(r chi.Router) {
		r.Use(requireAuth, requireAdmin)
		r.Get("/", h.ListUsers)
		r.Delete("/{id}", h.DeleteUser)
	})
}

type userSummary struct {
	ID                     string `json:"id"`
	Name                   string `json:"name"`
	Email                  string `json:"email"`
	Phone                  string `json:"phone,omitempty"`
	Role                   string `json:"role"`
	Status                 string `json:"status"`
	EmailVerified          bool   `json:"emailVerified"`
	PasswordChangeRequired bool   `json:"passwordChangeRequired"`
}

func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.userRepo.ListUsers(r.Context(), repository.FilterUsersParams{})
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list users")
		respondError(w, http.StatusInternalServerError, "something went wrong")
		return
	}

	summaries := make([]userSummary, 0, len(users))
	for _, user := range users {
		summaries = append(summaries, toSummary(user))
	}

	respondJSON(w, http.StatusOK, summaries)
}

func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.userRepo.DeleteUser(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			respondError(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error().Err(err).Msg("failed to delete user")
		respondError(w, http.StatusInternalServerError, "something went wrong")
		return
	}

	respondMessage(w, "User deleted")
}

func toSummary(user *model.User) userSummary {
	return userSummary{
		ID:                     user.ID,
		Name:                   user.Name,
		Email:                  user.Email,
		Phone:                  user.Phone,
		Role:                   string(user.Role),
		Status:                 string(user.Status),
		EmailVerified:          user.EmailVerified,
		PasswordChangeRequired: user.PasswordChangeRequired,
	}
}
