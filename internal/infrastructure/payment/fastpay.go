package payment

import (
	"context"
	"crypto/sha512"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// GatewayFastPay is the registry name of the bank-redirect gateway.
const GatewayFastPay = "fastpay"

const (
	fpVersion   = "2.1.0"
	fpCommand   = "pay"
	fpCurrency  = "VND"
	fpLocale    = "vn"
	fpOrderType = "other"

	// 14-digit timestamps in the gateway's fixed timezone (GMT+7).
	fpDateLayout = "20060102150405"

	fieldVersion       = "fp_Version"
	fieldCommand       = "fp_Command"
	fieldTmnCode       = "fp_TmnCode"
	fieldAmount        = "fp_Amount"
	fieldCurrCode      = "fp_CurrCode"
	fieldTxnRef        = "fp_TxnRef"
	fieldOrderInfo     = "fp_OrderInfo"
	fieldOrderType     = "fp_OrderType"
	fieldLocale        = "fp_Locale"
	fieldReturnURL     = "fp_ReturnUrl"
	fieldIPAddr        = "fp_IpAddr"
	fieldCreateDate    = "fp_CreateDate"
	fieldSecureHash    = "fp_SecureHash"
	fieldEmail         = "fp_Email"
	fieldPhone         = "fp_Phone"
	fieldResponseCode  = "fp_ResponseCode"
	fieldTransactionNo = "fp_TransactionNo"
	fieldBankCode      = "fp_BankCode"
	fieldCardType      = "fp_CardType"
	fieldPayDate       = "fp_PayDate"

	// Gateway response codes.
	codeSuccess    = "00"
	codeProcessing = "07"
	codeExpired    = "11"
	codeCancelled  = "24"

	fpAmountScale = 100
)

var fpZone = time.FixedZone("GMT+7", 7*60*60)

type FastPayConfig struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
}

// FastPay implements the bank-redirect protocol: signed redirect URLs
// out, HMAC-verified notifications back in.
type FastPay struct {
	cfg    FastPayConfig
	signer *Signer
	now    func() time.Time
}

// NewFastPay validates credentials eagerly; a gateway with missing
// config never makes it into the registry.
func NewFastPay(cfg FastPayConfig) (*FastPay, error) {
	for name, v := range map[string]string{
		"merchant code": cfg.TmnCode,
		"hash secret":   cfg.HashSecret,
		"pay url":       cfg.PayURL,
		"return url":    cfg.ReturnURL,
	} {
		if strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("fastpay: %s: %w", name, ErrMissingConfig)
		}
	}
	return &FastPay{
		cfg:    cfg,
		signer: NewSigner(sha512.New),
		now:    time.Now,
	}, nil
}

func (f *FastPay) Name() string { return GatewayFastPay }

func (f *FastPay) NormalizeAmount(amount decimal.Decimal, currency string) (int64, error) {
	if currency != fpCurrency {
		return 0, fmt.Errorf("fastpay: unsupported currency %q", currency)
	}
	if !amount.IsPositive() {
		return 0, fmt.Errorf("fastpay: amount must be positive, got %s", amount)
	}
	scaled := amount.Mul(decimal.NewFromInt(fpAmountScale))
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("fastpay: amount %s does not scale to a whole number", amount)
	}
	return scaled.IntPart(), nil
}

func (f *FastPay) CreatePaymentRequest(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if req.OrderID == "" {
		return nil, fmt.Errorf("fastpay: order id is required")
	}
	if req.Description == "" {
		return nil, fmt.Errorf("fastpay: description is required")
	}
	// The gateway uses the true origin IP for fraud scoring; there is
	// no safe default to fall back to.
	if req.ClientIP == "" {
		return nil, fmt.Errorf("fastpay: client ip is required")
	}
	amount, err := f.NormalizeAmount(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}

	now := f.now().In(fpZone)
	txnRef := fmt.Sprintf("%s-%d", req.OrderID, now.UnixMilli())

	// Customer email/phone are deliberately absent: the gateway
	// rejects requests carrying fields outside its contracted hash
	// input.
	fields := map[string]string{
		fieldVersion:    fpVersion,
		fieldCommand:    fpCommand,
		fieldTmnCode:    f.cfg.TmnCode,
		fieldAmount:     strconv.FormatInt(amount, 10),
		fieldCurrCode:   fpCurrency,
		fieldTxnRef:     txnRef,
		fieldOrderInfo:  SanitizeFreeText(req.Description),
		fieldOrderType:  fpOrderType,
		fieldLocale:     fpLocale,
		fieldReturnURL:  f.cfg.ReturnURL,
		fieldIPAddr:     req.ClientIP,
		fieldCreateDate: now.Format(fpDateLayout),
	}

	pairs := Canonicalize(fields)
	signature := f.signer.Sign(SerializeForSigning(pairs), f.cfg.HashSecret)

	query := SerializeForTransport(pairs, fieldOrderInfo)
	redirect := f.cfg.PayURL + "?" + query + "&" + fieldSecureHash + "=" + signature

	return &CreateResult{
		RedirectURL:    redirect,
		TransactionRef: txnRef,
		RequestFields:  fields,
	}, nil
}

func (f *FastPay) VerifyNotificationSignature(fields map[string]string, signature string) error {
	if signature == "" {
		return fmt.Errorf("fastpay: signature missing: %w", ErrInvalidSignature)
	}
	rest := make(map[string]string, len(fields))
	for k, v := range fields {
		// The signature itself and the customer-identity fields are
		// not part of the hash input on either side.
		if k == fieldSecureHash || k == fieldEmail || k == fieldPhone {
			continue
		}
		rest[k] = v
	}
	signData := SerializeForVerification(Canonicalize(rest))
	if !f.signer.Verify(signData, signature, f.cfg.HashSecret) {
		return fmt.Errorf("fastpay: signature mismatch: %w", ErrInvalidSignature)
	}
	return nil
}

func (f *FastPay) ProcessNotification(fields map[string]string) (*Transaction, error) {
	// Fail closed: no business field is read from an unverified payload.
	if err := f.VerifyNotificationSignature(fields, fields[fieldSecureHash]); err != nil {
		return nil, err
	}

	txnRef := fields[fieldTxnRef]
	if txnRef == "" {
		return nil, fmt.Errorf("fastpay: notification missing transaction ref")
	}
	// The ref is orderID + "-" + millis. Order ids may themselves
	// contain "-" (UUIDs do) but the millis suffix never does, so the
	// last separator is the unambiguous split point.
	sep := strings.LastIndex(txnRef, "-")
	if sep <= 0 {
		return nil, fmt.Errorf("fastpay: malformed transaction ref %q", txnRef)
	}
	orderID := txnRef[:sep]

	rawAmount, err := strconv.ParseInt(fields[fieldAmount], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("fastpay: bad amount %q: %v", fields[fieldAmount], err)
	}

	code := fields[fieldResponseCode]
	txn := &Transaction{
		OrderID:        orderID,
		TransactionRef: txnRef,
		GatewayTxnID:   fields[fieldTransactionNo],
		Amount:         decimal.New(rawAmount, 0).Div(decimal.NewFromInt(fpAmountScale)),
		Currency:       fpCurrency,
		Status:         statusFromCode(code),
		ResponseCode:   code,
		BankCode:       fields[fieldBankCode],
		CardType:       fields[fieldCardType],
		Raw:            fields,
	}
	if payDate, err := time.ParseInLocation(fpDateLayout, fields[fieldPayDate], fpZone); err == nil {
		txn.PayDate = payDate
	}
	return txn, nil
}

// QueryTransaction is not offered on the redirect tier of this
// protocol; the server-to-server query API is a separate contract.
func (f *FastPay) QueryTransaction(ctx context.Context, transactionRef string) (*Transaction, error) {
	return nil, fmt.Errorf("fastpay: query transaction: %w", ErrUnsupported)
}

func (f *FastPay) Refund(ctx context.Context, req RefundRequest) (string, error) {
	return "", fmt.Errorf("fastpay: refund: %w", ErrUnsupported)
}

func statusFromCode(code string) TransactionStatus {
	switch code {
	case codeSuccess:
		return TxnSuccess
	case codeProcessing:
		return TxnProcessing
	case codeExpired:
		return TxnExpired
	case codeCancelled:
		return TxnCancelled
	default:
		// Unknown codes are failures; the raw code is preserved on the
		// transaction for operators.
		return TxnFailed
	}
}
