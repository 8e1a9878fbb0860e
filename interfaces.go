package x402

import (
	"context"
	"encoding/json"
)

// SchemeClient builds mechanism-specific payment payloads on the client
// side. Implementations are registered on a Client per network pattern.
type SchemeClient interface {
	Scheme() string

	// CreatePayload signs a payment satisfying requirements and returns
	// the mechanism-specific payload body.
	CreatePayload(ctx context.Context, requirements PaymentRequirements) (json.RawMessage, error)
}

// SchemeService is the server-side role of a mechanism: it resolves
// prices into token base units and completes requirements with
// mechanism-specific data before they are offered to clients.
type SchemeService interface {
	Scheme() string

	ParsePrice(price Price, network Network) (AssetAmount, error)

	EnhanceRequirements(ctx context.Context, requirements PaymentRequirements, kind SupportedKind) (PaymentRequirements, error)
}

// SchemeFacilitator verifies and settles payments for one scheme.
// Implementations return structured responses for domain failures and
// reserve the error return for programming or transport errors.
type SchemeFacilitator interface {
	Scheme() string

	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*VerifyResponse, error)

	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*SettleResponse, error)

	// SupportedExtra returns mechanism data advertised for network in the
	// /supported listing, or nil.
	SupportedExtra(network Network) map[string]interface{}
}

// FacilitatorClient is how a resource server talks to a facilitator,
// remote (HTTP) or embedded (*Facilitator implements it directly).
type FacilitatorClient interface {
	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*VerifyResponse, error)

	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*SettleResponse, error)

	Supported(ctx context.Context) (*SupportedResponse, error)
}
