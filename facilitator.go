package x402

import (
	"context"
	"time"
)

// Facilitator routes verify and settle calls to the mechanism matching
// the payload's (scheme, network) and advertises the registered kinds.
// It implements FacilitatorClient, so a resource server can embed it
// in-process instead of calling a remote service.
type Facilitator struct {
	mechanisms *registry[SchemeFacilitator]
	verified   *verifiedStore
	extensions []string
}

// FacilitatorOption configures a Facilitator.
type FacilitatorOption func(*Facilitator)

// WithVerifiedStore makes Settle refuse payloads that did not pass a
// prior Verify with byte-identical canonical content. Standalone
// facilitator services must enable this; embedded facilitators may skip
// it because the middleware always verifies first. Entries expire after
// ttl.
func WithVerifiedStore(ttl time.Duration) FacilitatorOption {
	return func(f *Facilitator) { f.verified = newVerifiedStore(ttl) }
}

// WithExtensions declares extension identifiers listed by Supported.
func WithExtensions(extensions ...string) FacilitatorOption {
	return func(f *Facilitator) { f.extensions = append(f.extensions, extensions...) }
}

// NewFacilitator creates an empty facilitator coordinator.
func NewFacilitator(opts ...FacilitatorOption) *Facilitator {
	f := &Facilitator{mechanisms: newRegistry[SchemeFacilitator]()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Register adds a mechanism facilitator for a network pattern.
func (f *Facilitator) Register(pattern Network, mech SchemeFacilitator) {
	f.mechanisms.add(mech.Scheme(), pattern, mech)
}

// Verify routes the payload to the matching mechanism. Negotiation
// failures come back as structured responses, not errors.
func (f *Facilitator) Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*VerifyResponse, error) {
	if payload.X402Version != ProtocolVersion {
		return &VerifyResponse{IsValid: false, InvalidReason: ReasonUnsupportedVersion}, nil
	}
	mech, ok := f.mechanisms.lookup(payload.Scheme, payload.Network)
	if !ok {
		return &VerifyResponse{IsValid: false, InvalidReason: ReasonUnsupportedKind}, nil
	}
	resp, err := mech.Verify(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	if resp.IsValid && f.verified != nil {
		key, err := PayloadKey(payload)
		if err != nil {
			return nil, err
		}
		f.verified.record(key)
	}
	return resp, nil
}

// Settle routes the payload to the matching mechanism. With a verified
// store enabled, payloads that were never verified are refused before
// any mechanism or chain work happens.
func (f *Facilitator) Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*SettleResponse, error) {
	if payload.X402Version != ProtocolVersion {
		return &SettleResponse{Success: false, ErrorReason: ReasonUnsupportedVersion, Network: payload.Network}, nil
	}
	if f.verified != nil {
		key, err := PayloadKey(payload)
		if err != nil {
			return nil, err
		}
		if !f.verified.seen(key) {
			return &SettleResponse{Success: false, ErrorReason: ReasonNotVerified, Network: payload.Network}, nil
		}
	}
	mech, ok := f.mechanisms.lookup(payload.Scheme, payload.Network)
	if !ok {
		return &SettleResponse{Success: false, ErrorReason: ReasonUnsupportedKind, Network: payload.Network}, nil
	}
	return mech.Settle(ctx, payload, requirements)
}

// Supported lists every registered (scheme, network) pair and the
// declared extensions.
func (f *Facilitator) Supported(ctx context.Context) (*SupportedResponse, error) {
	resp := &SupportedResponse{Kinds: []SupportedKind{}, Extensions: f.extensions}
	if resp.Extensions == nil {
		resp.Extensions = []string{}
	}
	f.mechanisms.each(func(scheme string, pattern Network, mech SchemeFacilitator) {
		resp.Kinds = append(resp.Kinds, SupportedKind{
			X402Version: ProtocolVersion,
			Scheme:      scheme,
			Network:     pattern,
			Extra:       mech.SupportedExtra(pattern),
		})
	})
	return resp, nil
}
