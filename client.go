package x402

import (
	"context"
	"fmt"
	"math/big"
)

// BalanceChecker reports the payer's balance for the asset named by a
// candidate payment method, in base units. Implementations may return an
// error when the balance cannot be determined; the selector treats that
// as "balance unknown" and moves on.
type BalanceChecker func(ctx context.Context, requirements PaymentRequirements) (*big.Int, error)

// PreferenceFunc reorders the server's offers before selection. The
// returned slice replaces the candidate list.
type PreferenceFunc func(accepts []PaymentRequirements) []PaymentRequirements

// Client holds the payer-side mechanism registrations and implements
// payment method selection and payload construction.
type Client struct {
	schemes    *registry[SchemeClient]
	preference PreferenceFunc
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithPreference installs a reorderer applied to the server's offers
// before the balance scan.
func WithPreference(fn PreferenceFunc) ClientOption {
	return func(c *Client) { c.preference = fn }
}

// NewClient creates a payment client with no mechanisms registered.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{schemes: newRegistry[SchemeClient]()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a mechanism client for a network pattern. The pattern may
// be concrete or a family wildcard such as "eip155:*".
func (c *Client) Register(pattern Network, mech SchemeClient) {
	c.schemes.add(mech.Scheme(), pattern, mech)
}

// Supports reports whether a mechanism is registered for the offer.
func (c *Client) Supports(requirements PaymentRequirements) bool {
	_, ok := c.schemes.lookup(requirements.Scheme, requirements.Network)
	return ok
}

// SelectPaymentMethod picks the offer to pay. The client preference (if
// any) reorders accepts; candidates are then scanned in order and the
// first one with a positive balance wins. Offers without a registered
// mechanism are skipped without consulting the checker, as are offers
// whose balance cannot be determined. A nil checker accepts the first
// registered offer. Returns nil when no offer qualifies.
func (c *Client) SelectPaymentMethod(ctx context.Context, accepts []PaymentRequirements, balance BalanceChecker) (*PaymentRequirements, error) {
	candidates := accepts
	if c.preference != nil {
		candidates = c.preference(accepts)
	}
	for i := range candidates {
		m := candidates[i]
		if !c.Supports(m) {
			continue
		}
		if balance == nil {
			return &m, nil
		}
		bal, err := balance(ctx, m)
		if err != nil || bal == nil {
			continue
		}
		if bal.Sign() > 0 {
			return &m, nil
		}
	}
	return nil, nil
}

// CreatePayload builds the full signed PaymentPayload for the chosen
// offer, echoing the offer back as Accepted.
func (c *Client) CreatePayload(ctx context.Context, requirements PaymentRequirements) (PaymentPayload, error) {
	mech, ok := c.schemes.lookup(requirements.Scheme, requirements.Network)
	if !ok {
		return PaymentPayload{}, fmt.Errorf("%w: %s on %s", ErrUnsupportedScheme, requirements.Scheme, requirements.Network)
	}
	body, err := mech.CreatePayload(ctx, requirements)
	if err != nil {
		return PaymentPayload{}, err
	}
	return PaymentPayload{
		X402Version: ProtocolVersion,
		Scheme:      requirements.Scheme,
		Network:     requirements.Network,
		Payload:     body,
		Accepted:    requirements,
	}, nil
}
