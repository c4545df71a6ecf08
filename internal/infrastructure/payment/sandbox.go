package payment

import (
	"context"
	"crypto/sha512"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GatewaySandbox is an in-memory adapter for local runs and tests. It
// signs with the same machinery as a real gateway but settles charges
// against its own map instead of a bank.
const GatewaySandbox = "sandbox"

type sandboxTxn struct {
	txn      Transaction
	refunded bool
}

type Sandbox struct {
	mu     sync.RWMutex
	txns   map[string]*sandboxTxn // by transaction ref
	signer *Signer
	secret string
	now    func() time.Time
}

func NewSandbox(secret string) *Sandbox {
	return &Sandbox{
		txns:   make(map[string]*sandboxTxn),
		signer: NewSigner(sha512.New),
		secret: secret,
		now:    time.Now,
	}
}

func (s *Sandbox) Name() string { return GatewaySandbox }

func (s *Sandbox) NormalizeAmount(amount decimal.Decimal, currency string) (int64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("sandbox: amount must be positive, got %s", amount)
	}
	scaled := amount.Mul(decimal.NewFromInt(fpAmountScale))
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("sandbox: amount %s does not scale to a whole number", amount)
	}
	return scaled.IntPart(), nil
}

func (s *Sandbox) CreatePaymentRequest(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if req.OrderID == "" {
		return nil, fmt.Errorf("sandbox: order id is required")
	}
	if req.ClientIP == "" {
		return nil, fmt.Errorf("sandbox: client ip is required")
	}
	amount, err := s.NormalizeAmount(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}

	ref := fmt.Sprintf("%s-%d", req.OrderID, s.now().UnixMilli())
	fields := map[string]string{
		"sb_TxnRef":    ref,
		"sb_Amount":    strconv.FormatInt(amount, 10),
		"sb_OrderInfo": SanitizeFreeText(req.Description),
		"sb_IpAddr":    req.ClientIP,
	}
	pairs := Canonicalize(fields)
	sig := s.signer.Sign(SerializeForSigning(pairs), s.secret)

	s.mu.Lock()
	s.txns[ref] = &sandboxTxn{txn: Transaction{
		OrderID:        req.OrderID,
		TransactionRef: ref,
		GatewayTxnID:   uuid.NewString(),
		Amount:         req.Amount,
		Currency:       req.Currency,
		Status:         TxnProcessing,
		Raw:            fields,
	}}
	s.mu.Unlock()

	return &CreateResult{
		RedirectURL:    "https://sandbox.invalid/pay?" + SerializeForTransport(pairs, "sb_OrderInfo") + "&sb_SecureHash=" + sig,
		TransactionRef: ref,
		RequestFields:  fields,
	}, nil
}

func (s *Sandbox) VerifyNotificationSignature(fields map[string]string, signature string) error {
	if signature == "" {
		return fmt.Errorf("sandbox: signature missing: %w", ErrInvalidSignature)
	}
	rest := make(map[string]string, len(fields))
	for k, v := range fields {
		if k == "sb_SecureHash" {
			continue
		}
		rest[k] = v
	}
	signData := SerializeForVerification(Canonicalize(rest))
	if !s.signer.Verify(signData, signature, s.secret) {
		return fmt.Errorf("sandbox: signature mismatch: %w", ErrInvalidSignature)
	}
	return nil
}

func (s *Sandbox) ProcessNotification(fields map[string]string) (*Transaction, error) {
	if err := s.VerifyNotificationSignature(fields, fields["sb_SecureHash"]); err != nil {
		return nil, err
	}
	ref := fields["sb_TxnRef"]
	sep := strings.LastIndex(ref, "-")
	if sep <= 0 {
		return nil, fmt.Errorf("sandbox: malformed transaction ref %q", ref)
	}
	rawAmount, err := strconv.ParseInt(fields["sb_Amount"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("sandbox: bad amount %q: %v", fields["sb_Amount"], err)
	}
	status := TransactionStatus(fields["sb_Status"])
	switch status {
	case TxnSuccess, TxnProcessing, TxnFailed, TxnCancelled, TxnExpired:
	default:
		status = TxnFailed
	}

	txn := Transaction{
		OrderID:        ref[:sep],
		TransactionRef: ref,
		GatewayTxnID:   fields["sb_TransactionNo"],
		Amount:         decimal.New(rawAmount, 0).Div(decimal.NewFromInt(fpAmountScale)),
		Currency:       fpCurrency,
		Status:         status,
		ResponseCode:   fields["sb_ResponseCode"],
		Raw:            fields,
	}

	s.mu.Lock()
	if held, ok := s.txns[ref]; ok {
		held.txn.Status = status
		held.txn.GatewayTxnID = txn.GatewayTxnID
	}
	s.mu.Unlock()

	return &txn, nil
}

func (s *Sandbox) QueryTransaction(ctx context.Context, transactionRef string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	held, ok := s.txns[transactionRef]
	if !ok {
		return nil, fmt.Errorf("sandbox: no transaction %q", transactionRef)
	}
	txn := held.txn
	return &txn, nil
}

func (s *Sandbox) Refund(ctx context.Context, req RefundRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	held, ok := s.txns[req.TransactionRef]
	if !ok {
		return "", fmt.Errorf("sandbox: no transaction %q", req.TransactionRef)
	}
	if held.refunded {
		return "", fmt.Errorf("sandbox: transaction %q already refunded", req.TransactionRef)
	}
	held.refunded = true
	return "RF-" + uuid.NewString(), nil
}
