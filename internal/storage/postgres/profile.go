package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/giftshop/internal/domain/profile"
)

const (
	profileColumns = `id::text, user_id::text, email, full_name, phone, shipping_address, created_at, updated_at`

	getProfileByUserIDSQL = `SELECT ` + profileColumns + ` FROM profiles WHERE user_id = $1`

	// Guest profiles first so that a matching guest profile is the one claimed.
	getProfileByEmailSQL = `SELECT ` + profileColumns + ` FROM profiles
		WHERE LOWER(email) = LOWER($1)
		ORDER BY user_id IS NULL DESC, created_at
		LIMIT 1`

	upsertProfileSQL = `INSERT INTO profiles
		(id, user_id, email, full_name, phone, shipping_address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			email = EXCLUDED.email,
			full_name = EXCLUDED.full_name,
			phone = EXCLUDED.phone,
			shipping_address = EXCLUDED.shipping_address,
			updated_at = EXCLUDED.updated_at`
)

var _ profile.Store = (*ProfileRepository)(nil)

// ProfileRepository implements profile.Store backed by PostgreSQL.
type ProfileRepository struct {
	pool *pgxpool.Pool
}

// NewProfileRepository returns a ProfileRepository that uses the given pool.
func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

func (r *ProfileRepository) FindByUserID(ctx context.Context, userID string) (*profile.Profile, error) {
	return r.findOne(ctx, getProfileByUserIDSQL, userID)
}

func (r *ProfileRepository) FindByEmail(ctx context.Context, email string) (*profile.Profile, error) {
	return r.findOne(ctx, getProfileByEmailSQL, email)
}

func (r *ProfileRepository) Upsert(ctx context.Context, p *profile.Profile) error {
	_, err := r.pool.Exec(ctx, upsertProfileSQL,
		p.ID, nullIfEmpty(p.UserID), p.Email, p.FullName, p.Phone,
		p.DefaultShippingAddress, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting profile %q: %w", p.ID, err)
	}
	return nil
}

func (r *ProfileRepository) findOne(ctx context.Context, query, arg string) (*profile.Profile, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("finding profile: %w", err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProfile)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, profile.ErrNotFound
		}
		return nil, fmt.Errorf("finding profile: %w", err)
	}
	return &p, nil
}

func scanProfile(row pgx.CollectableRow) (profile.Profile, error) {
	var (
		p      profile.Profile
		userID *string
	)
	err := row.Scan(
		&p.ID, &userID, &p.Email, &p.FullName, &p.Phone,
		&p.DefaultShippingAddress, &p.CreatedAt, &p.UpdatedAt,
	)
	if userID != nil {
		p.UserID = *userID
	}
	return p, err
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
