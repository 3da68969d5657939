package repository

import (
	"context"
	"sync"
	"time"

	"github.com/vfms/fleet-identity-api/services/identity-service/internal/model"
)

// userInMemoryRepository is a mutex-guarded map implementation of
// UserRepository with the same version-check semantics as the Mongo one.
// Used by tests and local runs without a database.
type userInMemoryRepository struct {
	mu    sync.Mutex
	users map[string]*model.User
}

// NewUserInMemoryRepository creates an empty in-memory user repository.
func NewUserInMemoryRepository() UserRepository {
	return &userInMemoryRepository{users: make(map[string]*model.User)}
}

func cloneUser(u *model.User) *model.User {
	c := *u
	if u.Verification != nil {
		slot := *u.Verification
		c.Verification = &slot
	}
	if u.Reset != nil {
		slot := *u.Reset
		c.Reset = &slot
	}
	return &c
}

func (r *userInMemoryRepository) Create(_ context.Context, user *model.User) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user.Email = model.NormalizeEmail(user.Email)
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return nil, ErrDuplicateEmail
		}
	}

	now := time.Now()
	user.Version = 1
	user.CreatedAt = now
	user.UpdatedAt = now

	r.users[user.ID] = cloneUser(user)
	return user, nil
}

func (r *userInMemoryRepository) GetUser(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneUser(user), nil
}

func (r *userInMemoryRepository) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	email = model.NormalizeEmail(email)
	for _, user := range r.users {
		if user.Email == email {
			return cloneUser(user), nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *userInMemoryRepository) GetUserByVerificationToken(_ context.Context, token string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, user := range r.users {
		if user.Verification != nil && user.Verification.Token == token {
			return cloneUser(user), nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *userInMemoryRepository) GetUserByResetToken(_ context.Context, token string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, user := range r.users {
		if user.Reset != nil && user.Reset.Token == token {
			return cloneUser(user), nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *userInMemoryRepository) Save(_ context.Context, user *model.User) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.users[user.ID]
	if !ok {
		return nil, ErrUserNotFound
	}
	if stored.Version != user.Version {
		return nil, ErrConflict
	}

	user.Version++
	user.UpdatedAt = time.Now()
	r.users[user.ID] = cloneUser(user)

	return user, nil
}

func (r *userInMemoryRepository) ListUsers(_ context.Context, params FilterUsersParams) ([]*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var users []*model.User
	for _, user := range r.users {
		if params.Role != nil && user.Role != *params.Role {
			continue
		}
		if params.Verified != nil && user.EmailVerified != *params.Verified {
			continue
		}
		users = append(users, cloneUser(user))
	}
	return users, nil
}

func (r *userInMemoryRepository) DeleteUser(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[id]; !ok {
		return ErrUserNotFound
	}
	delete(r.users, id)
	return nil
}
