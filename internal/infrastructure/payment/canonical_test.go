package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeDeterministic(t *testing.T) {
	fields := map[string]string{
		"fp_TxnRef":     "abc-123",
		"fp_Amount":     "100000",
		"fp_Version":    "2.1.0",
		"fp_CreateDate": "20260115103000",
	}

	first := Canonicalize(fields)
	second := Canonicalize(fields)
	assert.Equal(t, first, second)

	// Lexicographic ascending by key, byte-wise.
	keys := make([]string, 0, len(first))
	for _, p := range first {
		keys = append(keys, p.Key)
	}
	assert.Equal(t, []string{"fp_Amount", "fp_CreateDate", "fp_TxnRef", "fp_Version"}, keys)
}

func TestCanonicalizeIgnoresInsertionOrder(t *testing.T) {
	a := map[string]string{}
	a["z"] = "1"
	a["a"] = "2"
	a["m"] = "3"

	b := map[string]string{}
	b["m"] = "3"
	b["z"] = "1"
	b["a"] = "2"

	assert.Equal(t, Canonicalize(a), Canonicalize(b))
}

func TestSerializeForSigning(t *testing.T) {
	pairs := Canonicalize(map[string]string{
		"fp_Amount":    "100000",
		"fp_OrderInfo": "Payment+for+order+123",
	})
	// Values verbatim, no escaping.
	assert.Equal(t, "fp_Amount=100000&fp_OrderInfo=Payment+for+order+123", SerializeForSigning(pairs))
}

func TestSerializeForTransportEscapesExceptExempt(t *testing.T) {
	pairs := Canonicalize(map[string]string{
		"fp_OrderInfo": "Payment+for+order+123",
		"fp_ReturnUrl": "https://shop.example/return",
	})
	got := SerializeForTransport(pairs, "fp_OrderInfo")
	assert.Equal(t, "fp_OrderInfo=Payment+for+order+123&fp_ReturnUrl=https%3A%2F%2Fshop.example%2Freturn", got)
}

func TestSerializeForVerificationReencodesDecodedValues(t *testing.T) {
	// The transport layer hands the adapter decoded values; spaces
	// must come back as "+" before signing or the signature never
	// matches the sender's.
	decoded := Canonicalize(map[string]string{
		"fp_Amount":    "100000",
		"fp_OrderInfo": "Payment for order 123",
	})
	require.Equal(t,
		"fp_Amount=100000&fp_OrderInfo=Payment+for+order+123",
		SerializeForVerification(decoded))
}

func TestEncodingAsymmetryProducesIdenticalSigningString(t *testing.T) {
	// Creation path: free text sanitized to "+" before signing.
	outbound := map[string]string{
		"fp_Amount":    "100000000",
		"fp_OrderInfo": SanitizeFreeText("Payment for order 123"),
		"fp_TxnRef":    "O1-1700000000000",
	}
	creationSigning := SerializeForSigning(Canonicalize(outbound))
	assert.Contains(t, creationSigning, "Payment+for+order+123")

	// Verification path: the same fields arrive transport-decoded.
	inbound := map[string]string{
		"fp_Amount":    "100000000",
		"fp_OrderInfo": "Payment for order 123",
		"fp_TxnRef":    "O1-1700000000000",
	}
	verificationSigning := SerializeForVerification(Canonicalize(inbound))

	assert.Equal(t, creationSigning, verificationSigning)
}

func TestSanitizeFreeText(t *testing.T) {
	assert.Equal(t, "Payment+for+order+123", SanitizeFreeText("  Payment  for \t order 123 "))
	assert.Equal(t, "", SanitizeFreeText("   "))
	assert.Equal(t, "single", SanitizeFreeText("single"))
}
