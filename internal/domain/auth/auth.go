package auth

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned by a Repository when no user matches.
	ErrNotFound = errors.New("user not found")
	// ErrEmailTaken is returned by Repository.Create for a duplicate email.
	ErrEmailTaken = errors.New("email already registered")
)

// User is a registered shopper account.
type User struct {
	ID           string
	Email        string
	FullName     string
	Phone        string
	PasswordHash string
	CreatedAt    time.Time
}

// Identity is an authenticated shopper.
type Identity struct {
	UserID   string
	Email    string
	FullName string
	Phone    string
	Token    string
}

// Repository provides persistence for user accounts.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, u *User) error
}

// ProfileProvisioner creates the customer profile that belongs to a new account.
type ProfileProvisioner interface {
	ProvisionProfile(ctx context.Context, id Identity) error
}
