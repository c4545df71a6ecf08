package payment

import (
	"crypto/hmac"
	"crypto/subtle"
	"encoding/hex"
	"hash"
	"strings"
)

// Signer computes keyed hashes over signing-form strings. The digest
// algorithm is fixed per gateway at construction.
type Signer struct {
	algo func() hash.Hash
}

func NewSigner(algo func() hash.Hash) *Signer {
	return &Signer{algo: algo}
}

// Sign returns the uppercase hex HMAC of message. The secret is
// trimmed of surrounding whitespace; copy-pasted credentials routinely
// carry a trailing newline.
func (s *Signer) Sign(message, secret string) string {
	mac := hmac.New(s.algo, []byte(strings.TrimSpace(secret)))
	mac.Write([]byte(message))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// Verify recomputes the signature and compares case-insensitively in
// constant time. The counterparty's hex case convention is not
// contractually guaranteed, and a short-circuiting compare would leak
// prefix-match timing.
func (s *Signer) Verify(message, receivedHex, secret string) bool {
	want := s.Sign(message, secret)
	got := strings.ToUpper(receivedHex)
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
