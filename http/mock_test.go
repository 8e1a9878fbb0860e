package http

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"

	x402 "github.com/centripay/x402"
)

const testNetwork = x402.Network("eip155:84532")

// testScheme plays all three mechanism roles with a self-asserted
// "~name" signature, so client, server, and facilitator can run against
// each other in-process.
type testScheme struct {
	payer string

	mu          sync.Mutex
	verifyCalls int
	settleCalls int

	verifyReason string
	settleReason string
	createErr    error
}

type testPayload struct {
	Name      string `json:"name"`
	Signature string `json:"signature"`
}

func newTestScheme(payer string) *testScheme {
	return &testScheme{payer: payer}
}

func (s *testScheme) Scheme() string { return "exact" }

func (s *testScheme) CreatePayload(ctx context.Context, requirements x402.PaymentRequirements) (json.RawMessage, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	return json.Marshal(testPayload{Name: s.payer, Signature: "~" + s.payer})
}

func (s *testScheme) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	switch p := price.(type) {
	case x402.AssetAmount:
		return p, nil
	case string:
		units, err := dollarsToBaseUnits(p)
		if err != nil {
			return x402.AssetAmount{}, err
		}
		return x402.AssetAmount{Asset: "0xA55E7", Amount: units}, nil
	}
	return x402.AssetAmount{}, fmt.Errorf("unsupported price %v", price)
}

// dollarsToBaseUnits resolves "$X.YZ" into 6-decimal base units, the
// same contract the real service implements.
func dollarsToBaseUnits(price string) (string, error) {
	whole, frac, _ := strings.Cut(strings.TrimPrefix(price, "$"), ".")
	if len(frac) > 6 {
		return "", fmt.Errorf("price %q has too many decimal places", price)
	}
	digits := whole + frac + strings.Repeat("0", 6-len(frac))
	units, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return "", fmt.Errorf("invalid price %q", price)
	}
	return units.String(), nil
}

func (s *testScheme) EnhanceRequirements(ctx context.Context, requirements x402.PaymentRequirements, kind x402.SupportedKind) (x402.PaymentRequirements, error) {
	return requirements, nil
}

func (s *testScheme) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	s.mu.Lock()
	s.verifyCalls++
	reason := s.verifyReason
	s.mu.Unlock()
	if reason != "" {
		return &x402.VerifyResponse{IsValid: false, InvalidReason: reason}, nil
	}
	var body testPayload
	if err := json.Unmarshal(payload.Payload, &body); err != nil {
		return nil, err
	}
	if body.Signature != "~"+body.Name {
		return &x402.VerifyResponse{IsValid: false, InvalidReason: "invalid_signature"}, nil
	}
	return &x402.VerifyResponse{IsValid: true, Payer: body.Name}, nil
}

func (s *testScheme) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.SettleResponse, error) {
	s.mu.Lock()
	s.settleCalls++
	n := s.settleCalls
	reason := s.settleReason
	s.mu.Unlock()
	if reason != "" {
		return &x402.SettleResponse{Success: false, ErrorReason: reason, Network: requirements.Network}, nil
	}
	var body testPayload
	if err := json.Unmarshal(payload.Payload, &body); err != nil {
		return nil, err
	}
	return &x402.SettleResponse{
		Success:     true,
		Payer:       body.Name,
		Transaction: fmt.Sprintf("0x%064d", n),
		Network:     requirements.Network,
	}, nil
}

func (s *testScheme) SupportedExtra(network x402.Network) map[string]interface{} { return nil }

func (s *testScheme) counts() (verify, settle int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verifyCalls, s.settleCalls
}

// newTestServer wires a resource server to an embedded facilitator,
// both running the test scheme on the test network.
func newTestServer(scheme *testScheme) *x402.ResourceServer {
	facilitator := x402.NewFacilitator()
	facilitator.Register(testNetwork, scheme)
	return x402.NewResourceServer(facilitator, x402.WithService(testNetwork, scheme))
}

func newPayerClient(scheme *testScheme) *x402.Client {
	client := x402.NewClient()
	client.Register(testNetwork, scheme)
	return client
}

func testRoutes() Routes {
	return Routes{
		"GET /premium": {
			Accepts: []x402.PaymentOption{{
				Scheme:  "exact",
				Network: testNetwork,
				PayTo:   "0xPAYEE",
				Price:   "$0.001",
			}},
			Description: "premium data",
			MimeType:    "application/json",
		},
	}
}
