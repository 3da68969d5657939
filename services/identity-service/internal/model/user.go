package model

import (
	"strings"
	"time"
)

// Role is the closed set of roles a user can hold within the fleet system.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleApprover Role = "APPROVER"
	RoleStaff    Role = "STAFF"
	RoleDriver   Role = "DRIVER"
)

// IsValid reports whether the role is one of the predefined roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleApprover, RoleStaff, RoleDriver:
		return true
	default:
		return false
	}
}

// UserStatus is the administrative status of an account.
type UserStatus string

const StatusActive UserStatus = "ACTIVE"

// TokenSlot holds a recovery credential together with its expiry. A slot is
// either fully populated or absent entirely; a nil *TokenSlot means empty.
type TokenSlot struct {
	Token     string    `bson:"token"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// ExpiredAt reports whether the slot is expired at the given instant. A token
// exactly at its expiry instant counts as expired.
func (s *TokenSlot) ExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// User represents a user identity in the fleet-management system.
type User struct {
	ID                     string     `bson:"_id,omitempty"`
	Name                   string     `bson:"name"`
	Email                  string     `bson:"email"`
	Phone                  string     `bson:"phone"`
	PasswordHash           string     `bson:"password_hash"`
	Role                   Role       `bson:"role"`
	Status                 UserStatus `bson:"status"`
	EmailVerified          bool       `bson:"email_verified"`
	PasswordChangeRequired bool       `bson:"password_change_required"`
	Verification           *TokenSlot `bson:"verification,omitempty"`
	Reset                  *TokenSlot `bson:"reset,omitempty"`
	Version                int64      `bson:"version"`
	CreatedAt              time.Time  `bson:"created_at"`
	UpdatedAt              time.Time  `bson:"updated_at"`
}

// LifecycleState is the derived credential-lifecycle state of a user.
type LifecycleState string

const (
	StateUnverified         LifecycleState = "UNVERIFIED"
	StateActive             LifecycleState = "ACTIVE"
	StateActivePendingReset LifecycleState = "ACTIVE_PENDING_RESET"
)

// State derives the lifecycle state from the verified flag and the reset
// slot. PasswordChangeRequired is orthogonal and not part of the state.
func (u *User) State() LifecycleState {
	if !u.EmailVerified {
		return StateUnverified
	}
	if u.Reset != nil {
		return StateActivePendingReset
	}
	return StateActive
}

// NormalizeEmail lowercases and trims an email address so that uniqueness and
// lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
