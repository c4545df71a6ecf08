package payment

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnsupported marks a capability a gateway legitimately does not
	// offer. Callers branch on it with errors.Is; it must never be
	// conflated with a generic failure.
	ErrUnsupported = errors.New("capability not supported by gateway")

	// ErrInvalidSignature covers missing, malformed and non-matching
	// signatures alike. Malformed input is itself invalid.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrMissingConfig is returned by adapter constructors when a
	// required credential is absent.
	ErrMissingConfig = errors.New("missing gateway configuration")
)

type TransactionStatus string

const (
	TxnSuccess    TransactionStatus = "SUCCESS"
	TxnProcessing TransactionStatus = "PROCESSING"
	TxnFailed     TransactionStatus = "FAILED"
	TxnCancelled  TransactionStatus = "CANCELLED"
	TxnExpired    TransactionStatus = "EXPIRED"
)

// Transaction is the normalized view of a gateway notification or
// query result.
type Transaction struct {
	OrderID        string
	TransactionRef string
	GatewayTxnID   string
	Amount         decimal.Decimal
	Currency       string
	Status         TransactionStatus
	ResponseCode   string
	BankCode       string
	CardType       string
	PayDate        time.Time
	Raw            map[string]string
}

type Customer struct {
	Name  string
	Email string
	Phone string
}

type CreateRequest struct {
	OrderID     string
	Amount      decimal.Decimal
	Currency    string
	Description string
	Customer    Customer
	ClientIP    string
}

type CreateResult struct {
	RedirectURL    string
	TransactionRef string
	// RequestFields is the exact ordered field map that went into the
	// signature, retained for audit and re-verification.
	RequestFields map[string]string
}

type RefundRequest struct {
	TransactionRef string
	GatewayTxnID   string
	Amount         decimal.Decimal
	Reason         string
}

// Adapter is the capability set every configured gateway implements.
// Adapters return errors, never panic across this boundary.
type Adapter interface {
	Name() string

	CreatePaymentRequest(ctx context.Context, req CreateRequest) (*CreateResult, error)

	// VerifyNotificationSignature checks an inbound field set against
	// its signature. A nil return means valid.
	VerifyNotificationSignature(fields map[string]string, signature string) error

	// ProcessNotification verifies first (fail closed) and then maps
	// the payload to a Transaction.
	ProcessNotification(fields map[string]string) (*Transaction, error)

	// QueryTransaction may return ErrUnsupported for gateways without
	// a server-to-server query tier.
	QueryTransaction(ctx context.Context, transactionRef string) (*Transaction, error)

	// Refund may return ErrUnsupported. On success it returns the
	// gateway's refund identifier.
	Refund(ctx context.Context, req RefundRequest) (string, error)

	// NormalizeAmount scales a decimal amount to the gateway's integer
	// representation, rejecting non-positive or non-integral results.
	NormalizeAmount(amount decimal.Decimal, currency string) (int64, error)
}
