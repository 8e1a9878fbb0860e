package x402

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Protocol header names. Matching is case-insensitive on the wire.
const (
	HeaderPaymentRequired  = "PAYMENT-REQUIRED"
	HeaderPaymentSignature = "PAYMENT-SIGNATURE"
	HeaderPaymentResponse  = "PAYMENT-RESPONSE"
)

// CanonicalJSON marshals v into deterministic JSON bytes: UTF-8,
// lexicographic object keys, numbers preserved digit-for-digit. Two
// structurally equal values always produce identical bytes, which makes
// the output safe to hash.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var norm interface{}
	if err := dec.Decode(&norm); err != nil {
		return nil, err
	}
	return json.Marshal(norm)
}

// EncodeHeader encodes v as canonical JSON framed with unpadded base64url,
// suitable for any of the three protocol headers.
func EncodeHeader[T any](v T) (string, error) {
	raw, err := CanonicalJSON(v)
	if err != nil {
		return "", fmt.Errorf("encode payment header: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeHeader reverses EncodeHeader. Bad base64url, bad JSON, or JSON
// that does not fit T all fail with an error wrapping ErrMalformedHeader.
// Padded input is tolerated.
func DecodeHeader[T any](s string) (T, error) {
	var v T
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if dec.More() {
		return v, fmt.Errorf("%w: trailing data", ErrMalformedHeader)
	}
	return v, nil
}
