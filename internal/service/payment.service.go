package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront-payments/internal/domain"
	"storefront-payments/internal/infrastructure/payment"
	"storefront-payments/internal/metrics"
	"storefront-payments/internal/notify"
	"storefront-payments/internal/repo"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrPaymentNotFound  = errors.New("payment record not found")
	ErrOrderAlreadyPaid = errors.New("order is already paid")
	ErrAmountMismatch   = errors.New("amount does not match order total")
	ErrNoRefundable     = errors.New("no successful payment to refund")
)

// Acknowledgment codes returned to the gateway. The webhook endpoint
// always responds with one of these; a non-00 code is still a received
// acknowledgment, never an HTTP failure the gateway would retry on.
const (
	AckConfirmed      = "00"
	AckOrderNotFound  = "01"
	AckAlreadyDone    = "02"
	AckAmountMismatch = "04"
	AckBadSignature   = "97"
	AckInternalError  = "99"
)

// Notifier is the outbound boundary informed after an order is durably
// marked paid. Failures are logged, never rolled back into payment
// state.
type Notifier interface {
	NotifyPaymentSuccess(ctx context.Context, evt notify.OrderPaidEvent) error
}

type InitiateInput struct {
	OrderID     uuid.UUID
	Gateway     string
	Amount      decimal.Decimal
	Currency    string
	Description string
	Customer    payment.Customer
	ClientIP    string
}

type InitiateResult struct {
	PaymentID      uuid.UUID
	TransactionRef string
	RedirectURL    string
}

// WebhookResult is the structured outcome of a notification. Code and
// Message form the acknowledgment body; Err is for logs and audit
// only and never reaches the sender.
type WebhookResult struct {
	Code      string
	Message   string
	Duplicate bool
	Err       error
}

type Confirmation struct {
	OrderID uuid.UUID
	IsPaid  bool
	PaidAt  *time.Time
	Payment *domain.Payment
}

type PaymentService interface {
	InitiatePayment(ctx context.Context, in InitiateInput) (*InitiateResult, error)
	// HandleWebhook never returns an error: the protocol mandates
	// acknowledging receipt even when processing fails internally.
	HandleWebhook(ctx context.Context, gateway string, fields map[string]string) *WebhookResult
	ConfirmPayment(ctx context.Context, orderID uuid.UUID) (*Confirmation, error)
	RefundPayment(ctx context.Context, orderID uuid.UUID, reason string) error
	ListPaymentsForOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Payment, error)
	ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

type paymentService struct {
	orderRepo   repo.OrderRepo
	paymentRepo repo.PaymentRepo
	registry    *payment.Registry
	notifier    Notifier
	metrics     *metrics.PaymentMetrics
	logger      *zap.Logger

	// Serializes concurrent webhook deliveries for the same payment.
	// The conditional repo transition is the second guard; this lock
	// keeps the read-modify-write from interleaving at all.
	locks sync.Map // uuid.UUID -> *sync.Mutex
}

func NewPaymentService(
	orderRepo repo.OrderRepo,
	paymentRepo repo.PaymentRepo,
	registry *payment.Registry,
	notifier Notifier,
	m *metrics.PaymentMetrics,
	logger *zap.Logger,
) PaymentService {
	return &paymentService{
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		registry:    registry,
		notifier:    notifier,
		metrics:     m,
		logger:      logger,
	}
}

func (s *paymentService) lockPayment(id uuid.UUID) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *paymentService) InitiatePayment(ctx context.Context, in InitiateInput) (*InitiateResult, error) {
	adapter, err := s.registry.Get(in.Gateway)
	if err != nil {
		return nil, err
	}

	order, err := s.orderRepo.FindById(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.IsPaid {
		return nil, ErrOrderAlreadyPaid
	}
	if !in.Amount.Equal(order.Amount) {
		return nil, fmt.Errorf("%w: got %s, order total is %s", ErrAmountMismatch, in.Amount, order.Amount)
	}
	if _, err := adapter.NormalizeAmount(in.Amount, in.Currency); err != nil {
		return nil, err
	}

	// Persist the attempt before calling out: a crash mid-flow still
	// leaves an auditable record. Every attempt is retained.
	now := time.Now()
	p := &domain.Payment{
		ID:        uuid.New(),
		OrderID:   in.OrderID,
		Gateway:   in.Gateway,
		Amount:    in.Amount,
		Currency:  in.Currency,
		Status:    domain.PaymentPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.paymentRepo.CreatePayment(ctx, p); err != nil {
		return nil, err
	}

	res, err := adapter.CreatePaymentRequest(ctx, payment.CreateRequest{
		OrderID:     in.OrderID.String(),
		Amount:      in.Amount,
		Currency:    in.Currency,
		Description: in.Description,
		Customer:    in.Customer,
		ClientIP:    in.ClientIP,
	})
	if err != nil {
		// The pending record is not left orphaned without an
		// explanation.
		if _, ferr := s.paymentRepo.TransitionStatus(ctx, p.ID, repo.StatusUpdate{
			To:         domain.PaymentFailed,
			FailReason: err.Error(),
		}, domain.PaymentPending); ferr != nil {
			s.logger.Error("failed to record initiation failure",
				zap.String("payment_id", p.ID.String()),
				zap.Error(ferr))
		}
		s.countInitiation(in.Gateway, "failed")
		return nil, err
	}

	if err := s.paymentRepo.UpdateRequest(ctx, p.ID, res.TransactionRef, res.RedirectURL, res.RequestFields); err != nil {
		return nil, err
	}

	s.countInitiation(in.Gateway, "created")
	s.logger.Info("payment initiated",
		zap.String("order_id", in.OrderID.String()),
		zap.String("payment_id", p.ID.String()),
		zap.String("gateway", in.Gateway),
		zap.String("txn_ref", res.TransactionRef))

	return &InitiateResult{
		PaymentID:      p.ID,
		TransactionRef: res.TransactionRef,
		RedirectURL:    res.RedirectURL,
	}, nil
}

func (s *paymentService) HandleWebhook(ctx context.Context, gateway string, fields map[string]string) *WebhookResult {
	result := s.handleWebhook(ctx, gateway, fields)
	if result.Err != nil {
		s.logger.Warn("webhook processing failed",
			zap.String("gateway", gateway),
			zap.String("ack_code", result.Code),
			zap.Error(result.Err))
	}
	s.countWebhook(gateway, result.Code)
	return result
}

func (s *paymentService) handleWebhook(ctx context.Context, gateway string, fields map[string]string) *WebhookResult {
	adapter, err := s.registry.Get(gateway)
	if err != nil {
		return &WebhookResult{Code: AckInternalError, Message: "Unknown Gateway", Err: err}
	}

	txn, err := adapter.ProcessNotification(fields)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			return &WebhookResult{Code: AckBadSignature, Message: "Invalid Checksum", Err: err}
		}
		return &WebhookResult{Code: AckInternalError, Message: "Invalid Notification", Err: err}
	}

	orderID, err := uuid.Parse(txn.OrderID)
	if err != nil {
		return &WebhookResult{Code: AckOrderNotFound, Message: "Order Not Found", Err: fmt.Errorf("bad order id %q in txn ref: %v", txn.OrderID, err)}
	}

	// A notification for a payment we never created is suspicious; it
	// must not fabricate state.
	p, err := s.paymentRepo.FindByOrderAndGateway(ctx, orderID, gateway)
	if err != nil {
		return &WebhookResult{Code: AckInternalError, Message: "Internal Error", Err: err}
	}
	if p == nil {
		return &WebhookResult{Code: AckOrderNotFound, Message: "Order Not Found", Err: fmt.Errorf("%w: order %s gateway %s", ErrPaymentNotFound, orderID, gateway)}
	}

	unlock := s.lockPayment(p.ID)
	defer unlock()

	// Redelivery is the normal case, not an exception. The signature
	// was verified above; nothing is re-applied and no duplicate
	// notification goes out.
	if p.Status.IsTerminal() {
		return &WebhookResult{Code: AckAlreadyDone, Message: "Order Already Confirmed", Duplicate: true}
	}

	if !txn.Amount.Equal(p.Amount) {
		return &WebhookResult{Code: AckAmountMismatch, Message: "Invalid Amount", Err: fmt.Errorf("notification amount %s, payment amount %s", txn.Amount, p.Amount)}
	}

	switch txn.Status {
	case payment.TxnSuccess:
		return s.applySuccess(ctx, p, txn)
	case payment.TxnProcessing:
		_, err := s.paymentRepo.TransitionStatus(ctx, p.ID, repo.StatusUpdate{
			To:           domain.PaymentProcessing,
			GatewayTxnID: txn.GatewayTxnID,
			Verified:     true,
			ResponseCode: txn.ResponseCode,
			NotifyFields: txn.Raw,
		}, domain.PaymentPending, domain.PaymentProcessing)
		if err != nil {
			return &WebhookResult{Code: AckInternalError, Message: "Internal Error", Err: err}
		}
		return &WebhookResult{Code: AckConfirmed, Message: "Confirm Success"}
	default:
		// Failure-shaped outcomes touch the payment only; the order
		// stays as it is.
		to := domain.PaymentFailed
		switch txn.Status {
		case payment.TxnCancelled:
			to = domain.PaymentCancelled
		case payment.TxnExpired:
			to = domain.PaymentExpired
		}
		_, err := s.paymentRepo.TransitionStatus(ctx, p.ID, repo.StatusUpdate{
			To:           to,
			GatewayTxnID: txn.GatewayTxnID,
			Verified:     true,
			ResponseCode: txn.ResponseCode,
			FailReason:   fmt.Sprintf("gateway response code %s", txn.ResponseCode),
			NotifyFields: txn.Raw,
		}, domain.PaymentPending, domain.PaymentProcessing)
		if err != nil {
			return &WebhookResult{Code: AckInternalError, Message: "Internal Error", Err: err}
		}
		return &WebhookResult{Code: AckConfirmed, Message: "Confirm Success"}
	}
}

// applySuccess moves the payment to success, then the order to paid,
// then fires the notification boundary. Ordering is load-bearing: the
// event goes out only after both writes are durable.
func (s *paymentService) applySuccess(ctx context.Context, p *domain.Payment, txn *payment.Transaction) *WebhookResult {
	paidAt := txn.PayDate
	if paidAt.IsZero() {
		paidAt = time.Now()
	}

	moved, err := s.paymentRepo.TransitionStatus(ctx, p.ID, repo.StatusUpdate{
		To:           domain.PaymentSucceeded,
		GatewayTxnID: txn.GatewayTxnID,
		Verified:     true,
		ResponseCode: txn.ResponseCode,
		NotifyFields: txn.Raw,
		PaidAt:       &paidAt,
	}, domain.PaymentPending, domain.PaymentProcessing)
	if err != nil {
		return &WebhookResult{Code: AckInternalError, Message: "Internal Error", Err: err}
	}
	if !moved {
		// Lost the race to a concurrent delivery.
		return &WebhookResult{Code: AckAlreadyDone, Message: "Order Already Confirmed", Duplicate: true}
	}

	method := domain.PaymentMethod(strings.ToUpper(p.Gateway))
	if _, err := s.orderRepo.MarkPaid(ctx, p.OrderID, method, paidAt); err != nil {
		// The payment record is authoritative; the reconciliation
		// sweep will converge the order.
		return &WebhookResult{Code: AckInternalError, Message: "Internal Error", Err: err}
	}

	if err := s.notifier.NotifyPaymentSuccess(ctx, notify.OrderPaidEvent{
		OrderID:      p.OrderID.String(),
		PaymentID:    p.ID.String(),
		Gateway:      p.Gateway,
		Amount:       p.Amount.String(),
		Currency:     p.Currency,
		GatewayTxnID: txn.GatewayTxnID,
		PaidAt:       paidAt,
	}); err != nil {
		s.logger.Error("payment success notification failed",
			zap.String("order_id", p.OrderID.String()),
			zap.Error(err))
	}

	s.logger.Info("payment confirmed",
		zap.String("order_id", p.OrderID.String()),
		zap.String("payment_id", p.ID.String()),
		zap.String("gateway_txn_id", txn.GatewayTxnID))

	return &WebhookResult{Code: AckConfirmed, Message: "Confirm Success"}
}

func (s *paymentService) ConfirmPayment(ctx context.Context, orderID uuid.UUID) (*Confirmation, error) {
	order, err := s.orderRepo.FindById(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	p, err := s.paymentRepo.FindLatestByStatus(ctx, orderID,
		domain.PaymentSucceeded, domain.PaymentProcessing)
	if err != nil {
		return nil, err
	}
	return &Confirmation{
		OrderID: order.ID,
		IsPaid:  order.IsPaid,
		PaidAt:  order.PaidAt,
		Payment: p,
	}, nil
}

func (s *paymentService) RefundPayment(ctx context.Context, orderID uuid.UUID, reason string) error {
	p, err := s.paymentRepo.FindLatestByStatus(ctx, orderID, domain.PaymentSucceeded)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrNoRefundable
	}
	adapter, err := s.registry.Get(p.Gateway)
	if err != nil {
		return err
	}

	unlock := s.lockPayment(p.ID)
	defer unlock()

	refundID, err := adapter.Refund(ctx, payment.RefundRequest{
		TransactionRef: p.TransactionRef,
		GatewayTxnID:   p.GatewayTxnID,
		Amount:         p.Amount,
		Reason:         reason,
	})
	if err != nil {
		s.countRefund(p.Gateway, "failed")
		// ErrUnsupported is surfaced verbatim so callers can branch
		// on it.
		return err
	}

	moved, err := s.paymentRepo.TransitionStatus(ctx, p.ID, repo.StatusUpdate{
		To:         domain.PaymentRefunded,
		FailReason: fmt.Sprintf("refund %s: %s", refundID, reason),
	}, domain.PaymentSucceeded)
	if err != nil {
		return err
	}
	if !moved {
		return fmt.Errorf("payment %s is no longer refundable", p.ID)
	}
	if err := s.orderRepo.MarkUnpaid(ctx, orderID); err != nil {
		return err
	}

	s.countRefund(p.Gateway, "refunded")
	s.logger.Info("payment refunded",
		zap.String("order_id", orderID.String()),
		zap.String("payment_id", p.ID.String()),
		zap.String("refund_id", refundID))
	return nil
}

func (s *paymentService) ListPaymentsForOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Payment, error) {
	return s.paymentRepo.ListByOrder(ctx, orderID)
}

// ReconcilePending sweeps payments stuck in pending and asks their
// gateway what actually happened. Gateways without a query tier get
// their stale attempts expired instead.
func (s *paymentService) ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	stale, err := s.paymentRepo.FindStalePending(ctx, time.Now().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}

	fixed := 0
	for i := range stale {
		p := stale[i]
		adapter, err := s.registry.Get(p.Gateway)
		if err != nil {
			s.logger.Warn("stale payment references unknown gateway",
				zap.String("payment_id", p.ID.String()),
				zap.String("gateway", p.Gateway))
			continue
		}

		qctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		txn, err := adapter.QueryTransaction(qctx, p.TransactionRef)
		cancel()
		if errors.Is(err, payment.ErrUnsupported) {
			// No way to ask; the attempt is abandoned.
			if moved, terr := s.paymentRepo.TransitionStatus(ctx, p.ID, repo.StatusUpdate{
				To:         domain.PaymentExpired,
				FailReason: "expired by reconciliation: gateway has no query api",
			}, domain.PaymentPending); terr == nil && moved {
				fixed++
			}
			continue
		}
		if err != nil {
			// Timeouts and transport errors are retryable on the next
			// sweep.
			s.logger.Warn("gateway query failed",
				zap.String("payment_id", p.ID.String()),
				zap.Error(err))
			continue
		}

		unlock := s.lockPayment(p.ID)
		switch txn.Status {
		case payment.TxnSuccess:
			res := s.applySuccess(ctx, &p, txn)
			if res.Code == AckConfirmed {
				fixed++
			}
		case payment.TxnFailed, payment.TxnCancelled, payment.TxnExpired:
			to := domain.PaymentFailed
			if txn.Status == payment.TxnCancelled {
				to = domain.PaymentCancelled
			} else if txn.Status == payment.TxnExpired {
				to = domain.PaymentExpired
			}
			if moved, terr := s.paymentRepo.TransitionStatus(ctx, p.ID, repo.StatusUpdate{
				To:           to,
				GatewayTxnID: txn.GatewayTxnID,
				ResponseCode: txn.ResponseCode,
				FailReason:   "resolved by reconciliation",
			}, domain.PaymentPending, domain.PaymentProcessing); terr == nil && moved {
				fixed++
			}
		}
		unlock()
	}
	return fixed, nil
}

func (s *paymentService) countInitiation(gateway, outcome string) {
	if s.metrics != nil {
		s.metrics.Initiations.WithLabelValues(gateway, outcome).Inc()
	}
}

func (s *paymentService) countWebhook(gateway, code string) {
	if s.metrics != nil {
		s.metrics.Webhooks.WithLabelValues(gateway, code).Inc()
	}
}

func (s *paymentService) countRefund(gateway, outcome string) {
	if s.metrics != nil {
		s.metrics.Refunds.WithLabelValues(gateway, outcome).Inc()
	}
}
