package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/giftshop/internal/domain/discount"
	"github.com/xenking/giftshop/internal/domain/pricing"
)

const (
	getDiscountByCodeSQL = `SELECT code, discount_type, value, min_order_amount, description,
		max_uses, current_uses, valid_from, valid_until, is_active
		FROM discount_codes WHERE code = UPPER($1)`

	upsertDiscountSQL = `INSERT INTO discount_codes
		(code, discount_type, value, min_order_amount, description, max_uses, valid_from, valid_until, is_active)
		VALUES (UPPER($1), $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (code) DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value,
			min_order_amount = EXCLUDED.min_order_amount,
			description = EXCLUDED.description,
			max_uses = EXCLUDED.max_uses,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			is_active = EXCLUDED.is_active`

	createDiscountStagingSQL = `CREATE TEMP TABLE discount_codes_staging
		(LIKE discount_codes INCLUDING DEFAULTS) ON COMMIT DROP`

	mergeDiscountStagingSQL = `INSERT INTO discount_codes
		(code, discount_type, value, min_order_amount, description, max_uses, is_active)
		SELECT code, discount_type, value, min_order_amount, description, max_uses, is_active
		FROM discount_codes_staging
		ON CONFLICT (code) DO NOTHING`

	incrementDiscountUsesSQL = `UPDATE discount_codes SET current_uses = current_uses + 1 WHERE code = UPPER($1)`
)

var _ discount.Repository = (*DiscountRepository)(nil)

// DiscountRepository implements discount.Repository backed by PostgreSQL.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

// FindByCode looks up a discount code case-insensitively. Inactive and
// expired codes are returned too; the validator decides.
// Returns discount.ErrNotFound when the code does not exist.
func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (*discount.Code, error) {
	rows, err := r.pool.Query(ctx, getDiscountByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding discount by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanDiscount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, fmt.Errorf("finding discount by code %q: %w", code, err)
	}
	return &c, nil
}

// Upsert creates or replaces a discount code definition. Usage counts are
// kept.
func (r *DiscountRepository) Upsert(ctx context.Context, c discount.Code) error {
	_, err := r.pool.Exec(ctx, upsertDiscountSQL,
		c.Code, string(c.Type), c.Value, c.MinOrderAmount, c.Description,
		c.MaxUses, c.ValidFrom, c.ValidUntil, c.IsActive,
	)
	if err != nil {
		return fmt.Errorf("upserting discount %q: %w", c.Code, err)
	}
	return nil
}

// BulkInsert copies codes into the table, skipping codes that already exist.
// It returns the number of codes inserted.
func (r *DiscountRepository) BulkInsert(ctx context.Context, codes []discount.Code) (int64, error) {
	var inserted int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, createDiscountStagingSQL); err != nil {
			return fmt.Errorf("creating staging table: %w", err)
		}

		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"discount_codes_staging"},
			[]string{"code", "discount_type", "value", "min_order_amount", "description", "max_uses", "is_active"},
			pgx.CopyFromSlice(len(codes), func(i int) ([]any, error) {
				c := codes[i]
				return []any{
					strings.ToUpper(c.Code), string(c.Type), c.Value, c.MinOrderAmount,
					c.Description, c.MaxUses, c.IsActive,
				}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copying codes: %w", err)
		}

		tag, err := tx.Exec(ctx, mergeDiscountStagingSQL)
		if err != nil {
			return fmt.Errorf("merging codes: %w", err)
		}
		inserted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bulk inserting %d discounts: %w", len(codes), err)
	}
	return inserted, nil
}

func scanDiscount(row pgx.CollectableRow) (discount.Code, error) {
	var (
		c            discount.Code
		discountType string
		value        decimal.Decimal
		minOrder     decimal.Decimal
		maxUses      int32
		currentUses  int32
		validFrom    *time.Time
		validUntil   *time.Time
	)
	err := row.Scan(
		&c.Code, &discountType, &value, &minOrder, &c.Description,
		&maxUses, &currentUses, &validFrom, &validUntil, &c.IsActive,
	)
	c.Type = pricing.DiscountType(discountType)
	c.Value = value
	c.MinOrderAmount = minOrder
	c.MaxUses = int(maxUses)
	c.CurrentUses = int(currentUses)
	c.ValidFrom = validFrom
	c.ValidUntil = validUntil
	return c, err
}
