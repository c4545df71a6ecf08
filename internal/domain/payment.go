package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentSucceeded  PaymentStatus = "SUCCESS"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentCancelled  PaymentStatus = "CANCELLED"
	PaymentExpired    PaymentStatus = "EXPIRED"
	PaymentRefunded   PaymentStatus = "REFUNDED"
)

// IsTerminal reports whether no notification may move the payment
// anymore. A refund is the only way out of SUCCESS and it produces a
// new terminal state, never a reopened one.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentSucceeded, PaymentFailed, PaymentCancelled, PaymentExpired, PaymentRefunded:
		return true
	}
	return false
}

// Payment is one attempt to collect money for an Order via one
// gateway. Records are never deleted; failed and abandoned attempts
// stay behind for audit and duplicate-notification detection.
type Payment struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	Gateway        string
	Amount         decimal.Decimal
	Currency       string
	Status         PaymentStatus
	TransactionRef string // per-attempt ref sent to the gateway
	GatewayTxnID   string // assigned by the gateway, empty until it responds
	RedirectURL    string
	RequestFields  map[string]string // exact outbound field map, kept for re-verification
	NotifyFields   map[string]string // raw inbound notification payload
	Verified       bool
	ResponseCode   string
	FailReason     string
	PaidAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
