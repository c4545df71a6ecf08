package payment

import (
	"context"
	"crypto/sha512"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFastPay(t *testing.T) *FastPay {
	t.Helper()
	fp, err := NewFastPay(FastPayConfig{
		TmnCode:    "SHOP0001",
		HashSecret: "test-hash-secret",
		PayURL:     "https://pay.fastpay.vn/gateway/v2/payin",
		ReturnURL:  "https://shop.example/payments/return",
	})
	require.NoError(t, err)
	fp.now = func() time.Time {
		return time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	}
	return fp
}

// signNotification signs fields the way the gateway does on its side:
// over the verification-form string, excluding the signature and
// customer-identity fields.
func signNotification(fields map[string]string, secret string) string {
	rest := make(map[string]string, len(fields))
	for k, v := range fields {
		if k == fieldSecureHash || k == fieldEmail || k == fieldPhone {
			continue
		}
		rest[k] = v
	}
	return NewSigner(sha512.New).Sign(SerializeForVerification(Canonicalize(rest)), secret)
}

func TestNewFastPayValidatesConfig(t *testing.T) {
	cases := []FastPayConfig{
		{HashSecret: "s", PayURL: "u", ReturnURL: "r"},
		{TmnCode: "t", PayURL: "u", ReturnURL: "r"},
		{TmnCode: "t", HashSecret: "s", ReturnURL: "r"},
		{TmnCode: "t", HashSecret: "s", PayURL: "u"},
		{TmnCode: "  ", HashSecret: "s", PayURL: "u", ReturnURL: "r"},
	}
	for i, cfg := range cases {
		_, err := NewFastPay(cfg)
		assert.ErrorIs(t, err, ErrMissingConfig, "case %d", i)
	}
}

func TestNormalizeAmount(t *testing.T) {
	fp := testFastPay(t)

	got, err := fp.NormalizeAmount(decimal.NewFromInt(1000), "VND")
	require.NoError(t, err)
	assert.Equal(t, int64(100000), got)

	_, err = fp.NormalizeAmount(decimal.Zero, "VND")
	assert.Error(t, err)

	_, err = fp.NormalizeAmount(decimal.NewFromInt(-5), "VND")
	assert.Error(t, err)

	// 0.005 * 100 = 0.5, not a whole number.
	frac, _ := decimal.NewFromString("0.005")
	_, err = fp.NormalizeAmount(frac, "VND")
	assert.Error(t, err)

	_, err = fp.NormalizeAmount(decimal.NewFromInt(1000), "USD")
	assert.Error(t, err)
}

func TestCreatePaymentRequestValidation(t *testing.T) {
	fp := testFastPay(t)
	base := CreateRequest{
		OrderID:     "O1",
		Amount:      decimal.NewFromInt(1000000),
		Currency:    "VND",
		Description: "Payment for order O1",
		ClientIP:    "203.0.113.7",
	}

	missing := base
	missing.OrderID = ""
	_, err := fp.CreatePaymentRequest(context.Background(), missing)
	assert.Error(t, err)

	missing = base
	missing.Description = ""
	_, err = fp.CreatePaymentRequest(context.Background(), missing)
	assert.Error(t, err)

	// No fallback IP: the gateway needs the true origin address.
	missing = base
	missing.ClientIP = ""
	_, err = fp.CreatePaymentRequest(context.Background(), missing)
	assert.Error(t, err)
}

func TestCreatePaymentRequest(t *testing.T) {
	fp := testFastPay(t)
	res, err := fp.CreatePaymentRequest(context.Background(), CreateRequest{
		OrderID:     "O1",
		Amount:      decimal.NewFromInt(1000000),
		Currency:    "VND",
		Description: "Payment for order 123",
		Customer:    Customer{Email: "a@b.vn", Phone: "0900000000"},
		ClientIP:    "203.0.113.7",
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(res.TransactionRef, "O1-"))

	// Customer identity fields never enter the contracted field set.
	_, hasEmail := res.RequestFields[fieldEmail]
	_, hasPhone := res.RequestFields[fieldPhone]
	assert.False(t, hasEmail)
	assert.False(t, hasPhone)

	assert.Equal(t, "100000000", res.RequestFields[fieldAmount])
	assert.Equal(t, "Payment+for+order+123", res.RequestFields[fieldOrderInfo])
	assert.Equal(t, "SHOP0001", res.RequestFields[fieldTmnCode])
	assert.Len(t, res.RequestFields[fieldCreateDate], 14)

	// Signature is the trailing, unescaped query parameter.
	u, err := url.Parse(res.RedirectURL)
	require.NoError(t, err)
	rawQuery := u.RawQuery
	assert.Contains(t, rawQuery, "&"+fieldSecureHash+"=")
	sig := rawQuery[strings.LastIndex(rawQuery, "=")+1:]
	assert.Len(t, sig, 128)
	assert.Equal(t, strings.ToUpper(sig), sig)

	// The redirect query decodes back to the signed field values.
	q := u.Query()
	assert.Equal(t, res.RequestFields[fieldTxnRef], q.Get(fieldTxnRef))
	assert.Equal(t, "Payment for order 123", q.Get(fieldOrderInfo))
}

func TestCreationAndVerificationPathsProduceSameSignature(t *testing.T) {
	// The sender signs over sanitized values; the receiver signs over
	// transport-decoded values re-encoded. For the same underlying
	// data and secret, both paths must yield the same signature.
	secret := "test-hash-secret"
	signer := NewSigner(sha512.New)

	outbound := map[string]string{
		fieldAmount:    "100000000",
		fieldTxnRef:    "O1-1700000000000",
		fieldOrderInfo: SanitizeFreeText("Payment for order 123"),
	}
	senderSig := signer.Sign(SerializeForSigning(Canonicalize(outbound)), secret)

	// What the receiver sees after its HTTP framework has decoded the
	// payload.
	inbound := map[string]string{
		fieldAmount:    "100000000",
		fieldTxnRef:    "O1-1700000000000",
		fieldOrderInfo: "Payment for order 123",
	}
	receiverSig := signer.Sign(SerializeForVerification(Canonicalize(inbound)), secret)

	assert.Equal(t, senderSig, receiverSig)
}

func successNotification(t *testing.T, fp *FastPay, orderID string, amount int64) map[string]string {
	t.Helper()
	fields := map[string]string{
		fieldTmnCode:       "SHOP0001",
		fieldTxnRef:        fmt.Sprintf("%s-%d", orderID, time.Now().UnixMilli()),
		fieldAmount:        fmt.Sprintf("%d", amount*fpAmountScale),
		fieldResponseCode:  codeSuccess,
		fieldTransactionNo: "14400996",
		fieldBankCode:      "NCB",
		fieldCardType:      "ATM",
		fieldPayDate:       "20260115173205",
		fieldOrderInfo:     "Payment for order 123",
	}
	fields[fieldSecureHash] = signNotification(fields, fp.cfg.HashSecret)
	return fields
}

func TestProcessNotificationSuccess(t *testing.T) {
	fp := testFastPay(t)
	fields := successNotification(t, fp, "O1", 1000000)

	txn, err := fp.ProcessNotification(fields)
	require.NoError(t, err)

	assert.Equal(t, "O1", txn.OrderID)
	assert.Equal(t, TxnSuccess, txn.Status)
	assert.Equal(t, "14400996", txn.GatewayTxnID)
	assert.True(t, txn.Amount.Equal(decimal.NewFromInt(1000000)), "got %s", txn.Amount)
	assert.Equal(t, "NCB", txn.BankCode)
	assert.Equal(t, 2026, txn.PayDate.Year())
	assert.Equal(t, fields, txn.Raw)
}

func TestProcessNotificationUUIDOrderID(t *testing.T) {
	// Order ids contain "-"; only the last separator splits off the
	// millis suffix.
	fp := testFastPay(t)
	orderID := "5f6e9a33-8a30-4c7e-9f30-1f2ab3c4d5e6"
	fields := successNotification(t, fp, orderID, 500000)

	txn, err := fp.ProcessNotification(fields)
	require.NoError(t, err)
	assert.Equal(t, orderID, txn.OrderID)
}

func TestProcessNotificationFailsClosed(t *testing.T) {
	fp := testFastPay(t)

	fields := successNotification(t, fp, "O1", 1000000)
	fields[fieldAmount] = "999" // tamper after signing

	_, err := fp.ProcessNotification(fields)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	// Missing signature is invalid, not a panic.
	delete(fields, fieldSecureHash)
	_, err = fp.ProcessNotification(fields)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = fp.ProcessNotification(map[string]string{})
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyAcceptsLowercaseSignature(t *testing.T) {
	fp := testFastPay(t)
	fields := successNotification(t, fp, "O1", 1000000)
	fields[fieldSecureHash] = strings.ToLower(fields[fieldSecureHash])

	_, err := fp.ProcessNotification(fields)
	assert.NoError(t, err)
}

func TestStatusFromCode(t *testing.T) {
	assert.Equal(t, TxnSuccess, statusFromCode("00"))
	assert.Equal(t, TxnProcessing, statusFromCode("07"))
	assert.Equal(t, TxnExpired, statusFromCode("11"))
	assert.Equal(t, TxnCancelled, statusFromCode("24"))
	assert.Equal(t, TxnFailed, statusFromCode("09"))
	assert.Equal(t, TxnFailed, statusFromCode("whatever"))
}

func TestUnsupportedCapabilities(t *testing.T) {
	fp := testFastPay(t)

	_, err := fp.QueryTransaction(context.Background(), "O1-123")
	assert.True(t, errors.Is(err, ErrUnsupported))

	_, err = fp.Refund(context.Background(), RefundRequest{TransactionRef: "O1-123"})
	assert.True(t, errors.Is(err, ErrUnsupported))
}
