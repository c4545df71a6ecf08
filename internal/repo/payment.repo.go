package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"storefront-payments/internal/domain"
)

// StatusUpdate carries the fields written together with a status
// transition. Empty strings and nil maps leave the stored value alone.
type StatusUpdate struct {
	To           domain.PaymentStatus
	GatewayTxnID string
	Verified     bool
	ResponseCode string
	FailReason   string
	NotifyFields map[string]string
	PaidAt       *time.Time
}

type PaymentRepo interface {
	CreatePayment(ctx context.Context, p *domain.Payment) error
	FindById(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	// FindByOrderAndGateway returns the most recent payment attempt
	// for the pair, or nil when none exists.
	FindByOrderAndGateway(ctx context.Context, orderID uuid.UUID, gateway string) (*domain.Payment, error)
	FindLatestByStatus(ctx context.Context, orderID uuid.UUID, statuses ...domain.PaymentStatus) (*domain.Payment, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Payment, error)
	// UpdateRequest stores the adapter's redirect URL and the exact
	// outbound field map after a successful create call.
	UpdateRequest(ctx context.Context, id uuid.UUID, txnRef, redirectURL string, fields map[string]string) error
	// TransitionStatus applies upd only while the current status is in
	// from. Reports whether a row moved; a false return on a live
	// payment means another delivery won the race.
	TransitionStatus(ctx context.Context, id uuid.UUID, upd StatusUpdate, from ...domain.PaymentStatus) (bool, error)
	FindStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Payment, error)
}

type paymentRepo struct {
	db *sql.DB
}

func NewPaymentRepo(db *sql.DB) PaymentRepo {
	return &paymentRepo{db: db}
}

const paymentColumns = `id, order_id, gateway, amount, currency, status, transaction_ref,
	gateway_txn_id, redirect_url, request_payload, notify_payload, verified,
	response_code, fail_reason, paid_at, created_at, updated_at`

func (r *paymentRepo) CreatePayment(ctx context.Context, p *domain.Payment) error {
	reqPayload, err := marshalFields(p.RequestFields)
	if err != nil {
		return err
	}
	notifyPayload, err := marshalFields(p.NotifyFields)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		p.ID, p.OrderID, p.Gateway, p.Amount, p.Currency, p.Status, p.TransactionRef,
		p.GatewayTxnID, p.RedirectURL, reqPayload, notifyPayload, p.Verified,
		p.ResponseCode, p.FailReason, p.PaidAt, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (r *paymentRepo) FindById(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPayment(row)
}

func (r *paymentRepo) FindByOrderAndGateway(ctx context.Context, orderID uuid.UUID, gateway string) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE order_id = $1 AND gateway = $2
		 ORDER BY created_at DESC LIMIT 1`, orderID, gateway)
	return scanPayment(row)
}

func (r *paymentRepo) FindLatestByStatus(ctx context.Context, orderID uuid.UUID, statuses ...domain.PaymentStatus) (*domain.Payment, error) {
	if len(statuses) == 0 {
		return nil, fmt.Errorf("at least one status is required")
	}
	args := []any{orderID}
	placeholders := make([]string, 0, len(statuses))
	for i, s := range statuses {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+2))
		args = append(args, s)
	}
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE order_id = $1 AND status IN (`+strings.Join(placeholders, ", ")+`)
		 ORDER BY created_at DESC LIMIT 1`, args...)
	return scanPayment(row)
}

func (r *paymentRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Payment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE order_id = $1 ORDER BY created_at DESC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPayments(rows)
}

func (r *paymentRepo) UpdateRequest(ctx context.Context, id uuid.UUID, txnRef, redirectURL string, fields map[string]string) error {
	payload, err := marshalFields(fields)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE payments
		 SET transaction_ref = $2, redirect_url = $3, request_payload = $4, updated_at = now()
		 WHERE id = $1`,
		id, txnRef, redirectURL, payload,
	)
	return err
}

func (r *paymentRepo) TransitionStatus(ctx context.Context, id uuid.UUID, upd StatusUpdate, from ...domain.PaymentStatus) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("at least one source status is required")
	}
	notifyPayload, err := marshalFields(upd.NotifyFields)
	if err != nil {
		return false, err
	}
	args := []any{id, upd.To, upd.GatewayTxnID, upd.Verified, upd.ResponseCode, upd.FailReason, notifyPayload, upd.PaidAt}
	placeholders := make([]string, 0, len(from))
	for i, s := range from {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+9))
		args = append(args, s)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE payments
		 SET status = $2,
		     gateway_txn_id = COALESCE(NULLIF($3, ''), gateway_txn_id),
		     verified = verified OR $4,
		     response_code = COALESCE(NULLIF($5, ''), response_code),
		     fail_reason = COALESCE(NULLIF($6, ''), fail_reason),
		     notify_payload = COALESCE($7, notify_payload),
		     paid_at = COALESCE($8, paid_at),
		     updated_at = now()
		 WHERE id = $1 AND status IN (`+strings.Join(placeholders, ", ")+`)`,
		args...,
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

func (r *paymentRepo) FindStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Payment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE status = $1 AND created_at < $2
		 ORDER BY created_at LIMIT $3`,
		domain.PaymentPending, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPayments(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var (
		p             domain.Payment
		reqPayload    []byte
		notifyPayload []byte
	)
	err := row.Scan(
		&p.ID, &p.OrderID, &p.Gateway, &p.Amount, &p.Currency, &p.Status, &p.TransactionRef,
		&p.GatewayTxnID, &p.RedirectURL, &reqPayload, &notifyPayload, &p.Verified,
		&p.ResponseCode, &p.FailReason, &p.PaidAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil // not found
	}
	if err != nil {
		return nil, err
	}
	if p.RequestFields, err = unmarshalFields(reqPayload); err != nil {
		return nil, err
	}
	if p.NotifyFields, err = unmarshalFields(notifyPayload); err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPayments(rows *sql.Rows) ([]domain.Payment, error) {
	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

func marshalFields(fields map[string]string) ([]byte, error) {
	if fields == nil {
		return nil, nil
	}
	return json.Marshal(fields)
}

func unmarshalFields(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var fields map[string]string
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
