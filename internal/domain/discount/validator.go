// Package discount looks up and validates discount codes.
package discount

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/giftshop/internal/apperr"
)

var _ Validator = (*RepoValidator)(nil)

// RepoValidator implements Validator by looking up codes from a Repository.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Validate looks up code and checks activity, the validity window, the usage
// limit and the minimum order amount, in that order. Rejections are reported
// in the Result; the error is reserved for lookup failures.
func (v *RepoValidator) Validate(ctx context.Context, code string, subtotal decimal.Decimal) (Result, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return Result{Reason: ReasonNotFound}, nil
	}

	c, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Result{Reason: ReasonNotFound}, nil
		}
		return Result{}, errors.Wrap(err, "lookup discount code")
	}

	now := v.now()
	switch {
	case !c.IsActive:
		return Result{Code: c, Reason: ReasonInactive}, nil
	case c.ValidFrom != nil && now.Before(*c.ValidFrom):
		return Result{Code: c, Reason: ReasonNotYetValid}, nil
	case c.ValidUntil != nil && now.After(*c.ValidUntil):
		return Result{Code: c, Reason: ReasonExpired}, nil
	case c.MaxUses > 0 && c.CurrentUses >= c.MaxUses:
		return Result{Code: c, Reason: ReasonUsageLimitReached}, nil
	case subtotal.LessThan(c.MinOrderAmount):
		return Result{Code: c, Reason: ReasonMinOrderNotMet}, nil
	}

	return Result{Valid: true, Code: c}, nil
}

// Err converts a rejected Result into an INVALID_DISCOUNT error, or nil.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return apperr.New(apperr.CodeInvalidDiscount, "discount code cannot be applied").
		WithReason(string(r.Reason))
}
