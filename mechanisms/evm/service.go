package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	x402 "github.com/centripay/x402"
)

// ExactService is the server-side role of the exact scheme: it resolves
// dollar prices into stablecoin base units and completes offers with the
// EIP-712 domain data clients need for signing.
type ExactService struct{}

// NewExactService creates the exact scheme service.
func NewExactService() *ExactService {
	return &ExactService{}
}

func (s *ExactService) Scheme() string { return SchemeExact }

// ParsePrice resolves a price into base units. "$X.YZ" maps to the
// canonical stablecoin for the network using exact decimal arithmetic;
// an explicit AssetAmount or {asset, amount} map passes through.
func (s *ExactService) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	switch p := price.(type) {
	case x402.AssetAmount:
		if p.Asset == "" || p.Amount == "" {
			return x402.AssetAmount{}, fmt.Errorf("asset amount requires asset and amount")
		}
		return p, nil
	case map[string]interface{}:
		asset, _ := p["asset"].(string)
		amount, _ := p["amount"].(string)
		if asset == "" || amount == "" {
			return x402.AssetAmount{}, fmt.Errorf("price map requires asset and amount")
		}
		var extra map[string]interface{}
		if e, ok := p["extra"].(map[string]interface{}); ok {
			extra = e
		}
		return x402.AssetAmount{Asset: asset, Amount: amount, Extra: extra}, nil
	case string:
		return s.parseDollarPrice(p, network)
	}
	return x402.AssetAmount{}, fmt.Errorf("unsupported price type %T", price)
}

func (s *ExactService) parseDollarPrice(price string, network x402.Network) (x402.AssetAmount, error) {
	cfg, ok := NetworkConfigs[string(network)]
	if !ok {
		return x402.AssetAmount{}, fmt.Errorf("no default asset configured for network %s", network)
	}
	asset := cfg.DefaultAsset

	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(price), "$"))
	if trimmed == "" {
		return x402.AssetAmount{}, fmt.Errorf("empty price %q", price)
	}

	whole, frac := trimmed, ""
	if i := strings.IndexByte(trimmed, '.'); i >= 0 {
		whole, frac = trimmed[:i], trimmed[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > asset.Decimals {
		return x402.AssetAmount{}, fmt.Errorf("price %q has more than %d decimal places", price, asset.Decimals)
	}
	digits := whole + frac + strings.Repeat("0", asset.Decimals-len(frac))

	units, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return x402.AssetAmount{}, fmt.Errorf("invalid price %q", price)
	}
	if units.Sign() <= 0 {
		return x402.AssetAmount{}, fmt.Errorf("price must be positive, got %q", price)
	}

	return x402.AssetAmount{
		Asset:  asset.Address,
		Amount: units.String(),
		Extra: map[string]interface{}{
			"name":    asset.Name,
			"version": asset.Version,
		},
	}, nil
}

// EnhanceRequirements completes an offer before it is frozen: for the
// eip3009 method the EIP-712 domain name/version of the asset must be
// present so clients can sign against the token's domain. Permit2 offers
// need nothing; Permit2 has its own fixed domain.
func (s *ExactService) EnhanceRequirements(ctx context.Context, requirements x402.PaymentRequirements, kind x402.SupportedKind) (x402.PaymentRequirements, error) {
	if TransferMethod(requirements) != AssetTransferMethodEIP3009 {
		return requirements, nil
	}
	if _, _, ok := eip712DomainFromExtra(requirements.Extra); ok {
		return requirements, nil
	}
	cfg, ok := NetworkConfigs[string(requirements.Network)]
	if !ok || !SameAddress(cfg.DefaultAsset.Address, requirements.Asset) {
		return requirements, fmt.Errorf("requirements for %s on %s are missing the EIP-712 domain (extra.name/version)", requirements.Asset, requirements.Network)
	}
	if requirements.Extra == nil {
		requirements.Extra = make(map[string]interface{}, 2)
	}
	requirements.Extra["name"] = cfg.DefaultAsset.Name
	requirements.Extra["version"] = cfg.DefaultAsset.Version
	return requirements, nil
}
