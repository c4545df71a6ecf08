package payment

import (
	"net/url"
	"sort"
	"strings"
)

// Pair is one canonicalized field. Keys are unique within a field set
// so ordering is total.
type Pair struct {
	Key   string
	Value string
}

// Canonicalize sorts a flat field map lexicographically ascending by
// key (byte-wise). Insertion order never affects the result.
func Canonicalize(fields map[string]string) []Pair {
	pairs := make([]Pair, 0, len(fields))
	for k, v := range fields {
		pairs = append(pairs, Pair{Key: k, Value: v})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
	return pairs
}

// SerializeForSigning joins the ordered pairs as key=value with "&",
// values taken verbatim. Free-text fields must already have had their
// whitespace collapsed to "+" before entering the map; nothing else is
// escaped here. The counterparty rebuilds this exact string from its
// own decoded view of the data, so the two sides must agree byte for
// byte.
func SerializeForSigning(pairs []Pair) string {
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.Key)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}
	return b.String()
}

// SerializeForTransport builds the URL query string: same ordering,
// every value form-encoded (space -> "+", reserved escaped), except
// the exempt key which was already encoded when the signing string was
// built and must not be escaped twice.
func SerializeForTransport(pairs []Pair, exemptKey string) string {
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.Key)
		b.WriteByte('=')
		if p.Key == exemptKey {
			b.WriteString(p.Value)
		} else {
			b.WriteString(url.QueryEscape(p.Value))
		}
	}
	return b.String()
}

// SerializeForVerification rebuilds the signing string on the inbound
// side. The transport layer has already URL-decoded the payload by the
// time the adapter sees it, so every value gets form-encoding
// re-applied before signing; using the decoded values directly would
// never match the sender's signature.
func SerializeForVerification(pairs []Pair) string {
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.Key)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}

// SanitizeFreeText trims the free-text field and collapses every run
// of whitespace to a single "+". This is the one field exempt from
// percent-encoding in both serializations.
func SanitizeFreeText(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), "+")
}
