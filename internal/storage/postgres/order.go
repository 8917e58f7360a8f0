package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/giftshop/internal/domain/order"
	"github.com/xenking/giftshop/internal/domain/payment"
)

const (
	nextOrderNumberSQL = `SELECT nextval('order_number_seq')`

	insertOrderSQL = `INSERT INTO orders (
			id, order_number, profile_id, user_id, email, contact_name, phone,
			shipping_address, payment_method, payment_ref,
			subtotal, discount_amount, subtotal_after_discount, shipping_cost,
			gift_option_cost, gift_product_cost, total,
			discount_code, gift, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (id) DO NOTHING`

	getOrderRefSQL = `SELECT order_number FROM orders WHERE id = $1`

	getOrderSQL = `SELECT id::text, order_number, profile_id::text, COALESCE(user_id::text, ''),
			email, contact_name, phone, shipping_address, payment_method, payment_ref,
			subtotal, discount_amount, subtotal_after_discount, shipping_cost,
			gift_option_cost, gift_product_cost, total,
			discount_code, gift, status, created_at
		FROM orders WHERE id = $1`

	getOrderItemsSQL = `SELECT product_id, package_option_id, description, quantity,
			unit_price, line_total, gift, recipient
		FROM order_items WHERE order_id = $1 ORDER BY position`
)

var _ order.Store = (*OrderRepository)(nil)

// OrderRepository implements order.Store backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// NextOrderNumber draws the next value of the order number sequence. Numbers
// are never reused, so a failed insert leaves a gap.
func (r *OrderRepository) NextOrderNumber(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, nextOrderNumberSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("allocating order number: %w", err)
	}
	return n, nil
}

// Insert writes the order, its items and the discount usage in one
// transaction. When an order with the same ID exists nothing is written and
// the existing reference is returned.
func (r *OrderRepository) Insert(ctx context.Context, o *order.Order) (order.Ref, error) {
	ref := order.Ref{ID: o.ID, OrderNumber: o.OrderNumber}

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		t := o.Totals
		tag, err := tx.Exec(ctx, insertOrderSQL,
			o.ID, o.OrderNumber, o.ProfileID, nullIfEmpty(o.UserID), o.Email, o.ContactName, o.Phone,
			o.ShippingAddress, string(o.PaymentMethod), o.PaymentRef,
			t.Subtotal, t.DiscountAmount, t.SubtotalAfterDiscount, t.ShippingCost,
			t.GiftOptionCost, t.GiftProductCost, t.Total,
			o.DiscountCode, o.Gift, string(o.Status), o.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting order: %w", err)
		}

		if tag.RowsAffected() == 0 {
			if err := tx.QueryRow(ctx, getOrderRefSQL, o.ID).Scan(&ref.OrderNumber); err != nil {
				return fmt.Errorf("reading existing order: %w", err)
			}
			return nil
		}
		ref.Created = true

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"order_items"},
			[]string{
				"order_id", "position", "product_id", "package_option_id", "description",
				"quantity", "unit_price", "line_total", "gift", "recipient",
			},
			pgx.CopyFromSlice(len(o.Items), func(i int) ([]any, error) {
				it := o.Items[i]
				return []any{
					o.ID, i, it.ProductID, it.PackageOptionID, it.Description,
					it.Quantity, it.UnitPrice, it.LineTotal, it.Gift, it.Recipient,
				}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("inserting order items: %w", err)
		}

		if o.DiscountCode != "" {
			if _, err := tx.Exec(ctx, incrementDiscountUsesSQL, o.DiscountCode); err != nil {
				return fmt.Errorf("counting discount use: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return order.Ref{}, fmt.Errorf("persisting order %q: %w", o.ID, err)
	}
	return ref, nil
}

// FindByID returns the order with its items, or order.ErrNotFound.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	rows, err = r.pool.Query(ctx, getOrderItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", id, err)
	}
	o.Items, err = pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", id, err)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		method string
		status string
	)
	t := &o.Totals
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.ProfileID, &o.UserID,
		&o.Email, &o.ContactName, &o.Phone, &o.ShippingAddress, &method, &o.PaymentRef,
		&t.Subtotal, &t.DiscountAmount, &t.SubtotalAfterDiscount, &t.ShippingCost,
		&t.GiftOptionCost, &t.GiftProductCost, &t.Total,
		&o.DiscountCode, &o.Gift, &status, &o.CreatedAt,
	)
	o.PaymentMethod = payment.Method(method)
	o.Status = order.Status(status)
	return o, err
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var (
		it  order.Item
		qty int32
	)
	err := row.Scan(
		&it.ProductID, &it.PackageOptionID, &it.Description, &qty,
		&it.UnitPrice, &it.LineTotal, &it.Gift, &it.Recipient,
	)
	it.Quantity = int(qty)
	return it, err
}
