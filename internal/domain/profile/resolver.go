// Package profile resolves the customer profile an order belongs to.
package profile

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/giftshop/internal/apperr"
	"github.com/xenking/giftshop/internal/domain/auth"
)

var _ auth.ProfileProvisioner = (*Resolver)(nil)

// Contact is what a submission knows about the customer.
type Contact struct {
	UserID   string
	Email    string
	FullName string
	Phone    string
	Address  *Address
}

// Resolver finds or creates profiles.
type Resolver struct {
	store Store
	lg    *zap.Logger
}

func NewResolver(store Store, lg *zap.Logger) *Resolver {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Resolver{store: store, lg: lg}
}

// Resolve returns the profile for c. With a UserID the account's profile is
// fetched, or created by claiming a guest profile with the same email, or
// created fresh; missing contact fields are filled from c. Without a UserID a
// profile with the same email is reused or a guest profile is created.
// Any failure is reported as PROFILE_RESOLUTION_FAILED.
func (r *Resolver) Resolve(ctx context.Context, c Contact) (*Profile, error) {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))

	p, err := r.lookup(ctx, c)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeProfileResolutionFailed, err, "lookup profile")
	}

	created := p == nil
	if created {
		p = &Profile{ID: uuid.NewString(), UserID: c.UserID}
	}
	changed := fill(p, c)
	if c.UserID != "" && p.UserID == "" {
		p.UserID = c.UserID
		changed = true
	}

	if created || changed {
		if err := r.store.Upsert(ctx, p); err != nil {
			return nil, apperr.Wrap(apperr.CodeProfileResolutionFailed, err, "save profile")
		}
		r.lg.Info("Profile saved",
			zap.String("profile_id", p.ID),
			zap.Bool("created", created),
			zap.Bool("guest", p.UserID == ""),
		)
	}

	return p, nil
}

// ProvisionProfile creates or links the profile of a newly registered account.
func (r *Resolver) ProvisionProfile(ctx context.Context, id auth.Identity) error {
	_, err := r.Resolve(ctx, Contact{
		UserID:   id.UserID,
		Email:    id.Email,
		FullName: id.FullName,
		Phone:    id.Phone,
	})
	return err
}

func (r *Resolver) lookup(ctx context.Context, c Contact) (*Profile, error) {
	if c.UserID != "" {
		p, err := r.store.FindByUserID(ctx, c.UserID)
		switch {
		case err == nil:
			return p, nil
		case !errors.Is(err, ErrNotFound):
			return nil, errors.Wrap(err, "find by user id")
		}
	}

	if c.Email == "" {
		return nil, nil
	}
	p, err := r.store.FindByEmail(ctx, c.Email)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, errors.Wrap(err, "find by email")
	}
	// An account never claims another account's profile.
	if c.UserID != "" && p.UserID != "" && p.UserID != c.UserID {
		return nil, nil
	}
	return p, nil
}

// fill copies contact fields that p is missing and reports whether p changed.
func fill(p *Profile, c Contact) bool {
	changed := false
	set := func(dst *string, v string) {
		if *dst == "" && v != "" {
			*dst = v
			changed = true
		}
	}
	set(&p.Email, c.Email)
	set(&p.FullName, c.FullName)
	set(&p.Phone, c.Phone)
	if p.DefaultShippingAddress == nil && c.Address != nil {
		addr := *c.Address
		p.DefaultShippingAddress = &addr
		changed = true
	}
	return changed
}
