package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront-payments/internal/domain"
	"storefront-payments/internal/notify"
	"storefront-payments/internal/repo"
)

type fakeOrderRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*domain.Order
	// paidWrites counts successful MarkPaid transitions, the thing the
	// idempotency guarantee is about.
	paidWrites int
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: make(map[uuid.UUID]*domain.Order)}
}

func (f *fakeOrderRepo) FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrderRepo) CreateOrder(ctx context.Context, order *domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *order
	f.orders[order.ID] = &cp
	return nil
}

func (f *fakeOrderRepo) MarkPaid(ctx context.Context, id uuid.UUID, method domain.PaymentMethod, paidAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok || o.IsPaid {
		return false, nil
	}
	o.MarkPaid(paidAt)
	o.PaymentMethod = method
	f.paidWrites++
	return true, nil
}

func (f *fakeOrderRepo) MarkUnpaid(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.orders[id]; ok {
		o.MarkUnpaid(time.Now())
	}
	return nil
}

type fakePaymentRepo struct {
	mu       sync.Mutex
	payments map[uuid.UUID]*domain.Payment
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{payments: make(map[uuid.UUID]*domain.Payment)}
}

func (f *fakePaymentRepo) CreatePayment(ctx context.Context, p *domain.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.payments[p.ID] = &cp
	return nil
}

func (f *fakePaymentRepo) FindById(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakePaymentRepo) byOrder(orderID uuid.UUID) []*domain.Payment {
	var out []*domain.Payment
	for _, p := range f.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (f *fakePaymentRepo) FindByOrderAndGateway(ctx context.Context, orderID uuid.UUID, gateway string) (*domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.byOrder(orderID) {
		if p.Gateway == gateway {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakePaymentRepo) FindLatestByStatus(ctx context.Context, orderID uuid.UUID, statuses ...domain.PaymentStatus) (*domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.byOrder(orderID) {
		for _, s := range statuses {
			if p.Status == s {
				cp := *p
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (f *fakePaymentRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Payment
	for _, p := range f.byOrder(orderID) {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakePaymentRepo) UpdateRequest(ctx context.Context, id uuid.UUID, txnRef, redirectURL string, fields map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.payments[id]
	p.TransactionRef = txnRef
	p.RedirectURL = redirectURL
	p.RequestFields = fields
	return nil
}

func (f *fakePaymentRepo) TransitionStatus(ctx context.Context, id uuid.UUID, upd repo.StatusUpdate, from ...domain.PaymentStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, s := range from {
		if p.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	p.Status = upd.To
	if upd.GatewayTxnID != "" {
		p.GatewayTxnID = upd.GatewayTxnID
	}
	p.Verified = p.Verified || upd.Verified
	if upd.ResponseCode != "" {
		p.ResponseCode = upd.ResponseCode
	}
	if upd.FailReason != "" {
		p.FailReason = upd.FailReason
	}
	if upd.NotifyFields != nil {
		p.NotifyFields = upd.NotifyFields
	}
	if upd.PaidAt != nil {
		p.PaidAt = upd.PaidAt
	}
	p.UpdatedAt = time.Now()
	return true, nil
}

func (f *fakePaymentRepo) FindStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Payment
	for _, p := range f.payments {
		if p.Status == domain.PaymentPending && p.CreatedAt.Before(before) {
			out = append(out, *p)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.OrderPaidEvent
}

func (f *fakeNotifier) NotifyPaymentSuccess(ctx context.Context, evt notify.OrderPaidEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}
