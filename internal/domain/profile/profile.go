package profile

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned by a Store when no profile matches.
var ErrNotFound = errors.New("profile not found")

// Address is a postal delivery address.
type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Profile is the customer record an order is attached to. Guest profiles have
// an empty UserID.
type Profile struct {
	ID                     string
	UserID                 string
	Email                  string
	FullName               string
	Phone                  string
	DefaultShippingAddress *Address
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Store provides persistence for profiles.
type Store interface {
	FindByUserID(ctx context.Context, userID string) (*Profile, error)
	FindByEmail(ctx context.Context, email string) (*Profile, error)
	// Upsert inserts p or updates the profile with the same ID.
	Upsert(ctx context.Context, p *Profile) error
}
