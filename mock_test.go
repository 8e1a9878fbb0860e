package x402

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// mockScheme is a toy payment mechanism used across the package tests.
// Payloads carry a payer name and a self-asserted "~name" signature.
type mockScheme struct {
	scheme string
	payer  string

	createCalls int
	verifyCalls int
	settleCalls int

	verifyReason string
	settleReason string
}

type mockPayload struct {
	Name       string `json:"name"`
	Signature  string `json:"signature"`
	ValidUntil string `json:"validUntil"`
}

func newMockScheme(payer string) *mockScheme {
	return &mockScheme{scheme: "exact", payer: payer}
}

func (m *mockScheme) Scheme() string { return m.scheme }

func (m *mockScheme) CreatePayload(ctx context.Context, requirements PaymentRequirements) (json.RawMessage, error) {
	m.createCalls++
	validUntil := time.Now().Add(time.Duration(requirements.MaxTimeoutSeconds) * time.Second).Unix()
	return json.Marshal(mockPayload{
		Name:       m.payer,
		Signature:  "~" + m.payer,
		ValidUntil: strconv.FormatInt(validUntil, 10),
	})
}

func (m *mockScheme) Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*VerifyResponse, error) {
	m.verifyCalls++
	if m.verifyReason != "" {
		return &VerifyResponse{IsValid: false, InvalidReason: m.verifyReason}, nil
	}
	var body mockPayload
	if err := json.Unmarshal(payload.Payload, &body); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(body.Signature, "~") || body.Signature[1:] != body.Name {
		return &VerifyResponse{IsValid: false, InvalidReason: "invalid_signature"}, nil
	}
	return &VerifyResponse{IsValid: true, Payer: body.Name}, nil
}

func (m *mockScheme) Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*SettleResponse, error) {
	m.settleCalls++
	if m.settleReason != "" {
		return &SettleResponse{Success: false, ErrorReason: m.settleReason, Network: requirements.Network}, nil
	}
	verify, err := m.Verify(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	m.verifyCalls--
	if !verify.IsValid {
		return &SettleResponse{Success: false, ErrorReason: verify.InvalidReason, Network: requirements.Network}, nil
	}
	return &SettleResponse{
		Success:     true,
		Transaction: fmt.Sprintf("0x%064d", m.settleCalls),
		Network:     requirements.Network,
		Payer:       verify.Payer,
	}, nil
}

func (m *mockScheme) SupportedExtra(network Network) map[string]interface{} { return nil }

func (m *mockScheme) ParsePrice(price Price, network Network) (AssetAmount, error) {
	switch p := price.(type) {
	case AssetAmount:
		return p, nil
	case string:
		cents := strings.TrimPrefix(p, "$")
		return AssetAmount{Asset: "0xA55E7", Amount: cents}, nil
	}
	return AssetAmount{}, fmt.Errorf("unsupported price %v", price)
}

func (m *mockScheme) EnhanceRequirements(ctx context.Context, requirements PaymentRequirements, kind SupportedKind) (PaymentRequirements, error) {
	if requirements.Extra == nil {
		requirements.Extra = map[string]interface{}{}
	}
	requirements.Extra["enhanced"] = true
	return requirements, nil
}

func mockOffer(network Network, amount string) PaymentRequirements {
	return PaymentRequirements{
		Scheme:            "exact",
		Network:           network,
		Asset:             "0xA55E7",
		Amount:            amount,
		PayTo:             "0xPAYEE",
		MaxTimeoutSeconds: 300,
	}
}
