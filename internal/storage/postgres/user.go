package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/giftshop/internal/domain/auth"
)

const (
	userColumns = `id::text, email, full_name, phone, password_hash, created_at`

	getUserByEmailSQL = `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`
	getUserByIDSQL    = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	createUserSQL = `INSERT INTO users (id, email, full_name, phone, password_hash, created_at)
		VALUES ($1, LOWER($2), $3, $4, $5, $6)`
)

var _ auth.Repository = (*UserRepository)(nil)

// UserRepository implements auth.Repository backed by PostgreSQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return r.findOne(ctx, getUserByEmailSQL, email)
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*auth.User, error) {
	return r.findOne(ctx, getUserByIDSQL, id)
}

// Create inserts u. A duplicate email returns auth.ErrEmailTaken.
func (r *UserRepository) Create(ctx context.Context, u *auth.User) error {
	_, err := r.pool.Exec(ctx, createUserSQL, u.ID, u.Email, u.FullName, u.Phone, u.PasswordHash, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrEmailTaken
		}
		return fmt.Errorf("creating user %q: %w", u.Email, err)
	}
	return nil
}

func (r *UserRepository) findOne(ctx context.Context, query, arg string) (*auth.User, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", err)
	}

	u, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (auth.User, error) {
		var u auth.User
		err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.Phone, &u.PasswordHash, &u.CreatedAt)
		return u, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, fmt.Errorf("finding user: %w", err)
	}
	return &u, nil
}
