package x402

import "encoding/json"

// ProtocolVersion is the x402 protocol version spoken by this module.
// Any other version on the wire fails negotiation.
const ProtocolVersion = 2

// Price is either a display string ("$0.001"), an AssetAmount, or a
// map with "asset"/"amount" keys. Mechanism services resolve it into
// token base units via ParsePrice.
type Price interface{}

// AssetAmount is an amount of a specific on-chain asset, already in the
// token's smallest units.
type AssetAmount struct {
	Asset  string                 `json:"asset"`
	Amount string                 `json:"amount"`
	Extra  map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequirements is a single server offer. It is immutable once
// emitted in a 402 response; the client echoes the chosen entry back
// verbatim as PaymentPayload.Accepted.
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           Network                `json:"network"`
	Asset             string                 `json:"asset"`
	Amount            string                 `json:"amount"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// ResourceInfo describes the protected resource for clients and indexers.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PaymentRequired is the negotiation object carried in the
// PAYMENT-REQUIRED header of a 402 response. Accepts is ordered by
// server preference and must not be empty.
type PaymentRequired struct {
	X402Version int                    `json:"x402Version"`
	Error       string                 `json:"error,omitempty"`
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Accepts     []PaymentRequirements  `json:"accepts"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// PaymentPayload is the signed payment authorization carried in the
// PAYMENT-SIGNATURE header. Payload is mechanism-specific and decoded
// by the mechanism owning (Scheme, Network); Accepted is the exact
// server offer the client chose to satisfy.
type PaymentPayload struct {
	X402Version int                 `json:"x402Version"`
	Scheme      string              `json:"scheme"`
	Network     Network             `json:"network"`
	Payload     json.RawMessage     `json:"payload"`
	Accepted    PaymentRequirements `json:"accepted"`
}

// VerifyRequest is the body of POST /verify on a standalone facilitator.
type VerifyRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// VerifyResponse is the facilitator's verification verdict.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleRequest is the body of POST /settle on a standalone facilitator.
type SettleRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// SettleResponse is the settlement result, carried to the client in the
// PAYMENT-RESPONSE header on success. ErrorReason is non-empty iff
// Success is false.
type SettleResponse struct {
	Success     bool    `json:"success"`
	ErrorReason string  `json:"errorReason,omitempty"`
	Payer       string  `json:"payer,omitempty"`
	Transaction string  `json:"transaction"`
	Network     Network `json:"network"`
}

// SupportedKind is one (scheme, network) pair a facilitator can settle.
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     Network                `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse is the body of GET /supported.
type SupportedResponse struct {
	Kinds      []SupportedKind `json:"kinds"`
	Extensions []string        `json:"extensions"`
}

// RequirementsEqual reports whether two offers are identical after JSON
// normalization. Used by the server to re-validate the client-echoed
// Accepted against its own Accepts.
func RequirementsEqual(a, b PaymentRequirements) bool {
	aj, err := CanonicalJSON(a)
	if err != nil {
		return false
	}
	bj, err := CanonicalJSON(b)
	if err != nil {
		return false
	}
	return string(aj) == string(bj)
}
