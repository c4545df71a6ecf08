package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	MethodFastPay PaymentMethod = "FASTPAY"
	MethodCOD     PaymentMethod = "COD"
)

type Order struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Amount        decimal.Decimal // total in VND
	IsPaid        bool
	PaidAt        *time.Time
	PaymentMethod PaymentMethod
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// MarkPaid sets the paid flag together with its timestamp: IsPaid true
// always implies PaidAt non-nil.
func (o *Order) MarkPaid(at time.Time) {
	o.IsPaid = true
	o.PaidAt = &at
	o.UpdatedAt = at
}

func (o *Order) MarkUnpaid(at time.Time) {
	o.IsPaid = false
	o.PaidAt = nil
	o.UpdatedAt = at
}
