package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"storefront-payments/internal/domain"
)

type OrderRepo interface {
	FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	CreateOrder(ctx context.Context, order *domain.Order) error
	// MarkPaid flips the order to paid only if it is not already; the
	// condition makes a redelivered success notification a no-op at
	// the order level too. Reports whether a row moved.
	MarkPaid(ctx context.Context, id uuid.UUID, method domain.PaymentMethod, paidAt time.Time) (bool, error)
	MarkUnpaid(ctx context.Context, id uuid.UUID) error
}

type orderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db}
}

func (r *orderRepo) FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	var order domain.Order
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, amount, is_paid, paid_at, payment_method, created_at, updated_at
		 FROM orders WHERE id = $1`, id).Scan(
		&order.ID,
		&order.UserID,
		&order.Amount,
		&order.IsPaid,
		&order.PaidAt,
		&order.PaymentMethod,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil // not found
	}
	if err != nil {
		return nil, err // system error
	}
	return &order, nil
}

func (r *orderRepo) CreateOrder(ctx context.Context, order *domain.Order) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, amount, is_paid, paid_at, payment_method, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		order.ID, order.UserID, order.Amount, order.IsPaid, order.PaidAt,
		order.PaymentMethod, order.CreatedAt, order.UpdatedAt,
	)
	return err
}

func (r *orderRepo) MarkPaid(ctx context.Context, id uuid.UUID, method domain.PaymentMethod, paidAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders
		 SET is_paid = TRUE, paid_at = $2, payment_method = $3, updated_at = now()
		 WHERE id = $1 AND is_paid = FALSE`,
		id, paidAt, method,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *orderRepo) MarkUnpaid(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE orders SET is_paid = FALSE, paid_at = NULL, updated_at = now() WHERE id = $1`,
		id,
	)
	return err
}
