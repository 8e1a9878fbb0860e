package x402

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultMaxTimeoutSeconds is the authorization validity window applied
// when a payment option does not name one.
const DefaultMaxTimeoutSeconds = 300

// PaymentOption is one route-level payment configuration. Price is
// resolved into base units by the registered mechanism service when the
// option is turned into PaymentRequirements.
type PaymentOption struct {
	Scheme            string
	Network           Network
	PayTo             string
	Price             Price
	MaxTimeoutSeconds int
	Extra             map[string]interface{}
}

// ResourceServer holds the server-side mechanism registrations and the
// facilitator connection, and builds and re-validates payment
// requirements for protected resources.
type ResourceServer struct {
	services    *registry[SchemeService]
	facilitator FacilitatorClient

	supportedTTL time.Duration
	mu           sync.Mutex
	supported    *SupportedResponse
	fetchedAt    time.Time
}

// ResourceServerOption configures a ResourceServer.
type ResourceServerOption func(*ResourceServer)

// WithService registers a mechanism service for a network pattern.
func WithService(pattern Network, svc SchemeService) ResourceServerOption {
	return func(s *ResourceServer) { s.services.add(svc.Scheme(), pattern, svc) }
}

// WithSupportedTTL overrides how long the facilitator's /supported
// listing is cached. Default is five minutes.
func WithSupportedTTL(ttl time.Duration) ResourceServerOption {
	return func(s *ResourceServer) { s.supportedTTL = ttl }
}

// NewResourceServer creates a resource server talking to the given
// facilitator.
func NewResourceServer(facilitator FacilitatorClient, opts ...ResourceServerOption) *ResourceServer {
	s := &ResourceServer{
		services:     newRegistry[SchemeService](),
		facilitator:  facilitator,
		supportedTTL: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterService registers a mechanism service for a network pattern.
func (s *ResourceServer) RegisterService(pattern Network, svc SchemeService) {
	s.services.add(svc.Scheme(), pattern, svc)
}

// Supported returns the facilitator's supported kinds, fetched at most
// once per TTL.
func (s *ResourceServer) Supported(ctx context.Context) (*SupportedResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.supported != nil && time.Since(s.fetchedAt) < s.supportedTTL {
		return s.supported, nil
	}
	resp, err := s.facilitator.Supported(ctx)
	if err != nil {
		if s.supported != nil {
			return s.supported, nil
		}
		return nil, err
	}
	s.supported = resp
	s.fetchedAt = time.Now()
	return resp, nil
}

// BuildRequirements resolves payment options into frozen
// PaymentRequirements, preserving option order (server preference).
// Every option must name a scheme registered on this server and
// supported by the facilitator; a server must never offer terms nobody
// can settle.
func (s *ResourceServer) BuildRequirements(ctx context.Context, options []PaymentOption) ([]PaymentRequirements, error) {
	if len(options) == 0 {
		return nil, NewProtocolError("empty_accepts", "at least one payment option is required")
	}
	supported, err := s.Supported(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch supported kinds: %w", err)
	}
	requirements := make([]PaymentRequirements, 0, len(options))
	for _, opt := range options {
		svc, ok := s.services.lookup(opt.Scheme, opt.Network)
		if !ok {
			return nil, fmt.Errorf("%w: %s on %s", ErrUnsupportedScheme, opt.Scheme, opt.Network)
		}
		kind, ok := matchSupportedKind(supported.Kinds, opt.Scheme, opt.Network)
		if !ok {
			return nil, NewProtocolError(ReasonUnsupportedKind, "facilitator does not support %s on %s", opt.Scheme, opt.Network)
		}
		amount, err := svc.ParsePrice(opt.Price, opt.Network)
		if err != nil {
			return nil, fmt.Errorf("parse price for %s: %w", opt.Network, err)
		}
		timeout := opt.MaxTimeoutSeconds
		if timeout <= 0 {
			timeout = DefaultMaxTimeoutSeconds
		}
		req := PaymentRequirements{
			Scheme:            opt.Scheme,
			Network:           opt.Network,
			Asset:             amount.Asset,
			Amount:            amount.Amount,
			PayTo:             opt.PayTo,
			MaxTimeoutSeconds: timeout,
			Extra:             mergeExtra(amount.Extra, opt.Extra),
		}
		req, err = svc.EnhanceRequirements(ctx, req, kind)
		if err != nil {
			return nil, fmt.Errorf("enhance requirements for %s: %w", opt.Network, err)
		}
		requirements = append(requirements, req)
	}
	return requirements, nil
}

// MatchAccepted finds the server offer the client chose. The echoed
// Accepted must be identically present in accepts; the server never
// trusts client-supplied terms it did not emit.
func (s *ResourceServer) MatchAccepted(accepts []PaymentRequirements, payload PaymentPayload) (*PaymentRequirements, error) {
	for i := range accepts {
		if RequirementsEqual(accepts[i], payload.Accepted) {
			return &accepts[i], nil
		}
	}
	return nil, NewProtocolError(ReasonInvalidAcceptedRequirements, "accepted requirements do not match any server offer")
}

// VerifyPayment forwards to the facilitator.
func (s *ResourceServer) VerifyPayment(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*VerifyResponse, error) {
	return s.facilitator.Verify(ctx, payload, requirements)
}

// SettlePayment forwards to the facilitator.
func (s *ResourceServer) SettlePayment(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*SettleResponse, error) {
	return s.facilitator.Settle(ctx, payload, requirements)
}

func matchSupportedKind(kinds []SupportedKind, scheme string, network Network) (SupportedKind, bool) {
	for _, kind := range kinds {
		if kind.Scheme == scheme && network.Match(kind.Network) {
			return kind, true
		}
	}
	return SupportedKind{}, false
}

func mergeExtra(base, override map[string]interface{}) map[string]interface{} {
	if base == nil && override == nil {
		return nil
	}
	merged := make(map[string]interface{}, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}
