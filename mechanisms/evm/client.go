package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	x402 "github.com/centripay/x402"
)

// ErrSettlementContractMissing is returned when a permit2 offer targets
// a network with no configured settlement contract.
var ErrSettlementContractMissing = fmt.Errorf("no settlement contract configured for network")

// authorizationBackdate keeps fresh authorizations valid across modest
// clock skew between payer and chain.
const authorizationBackdate = 600 * time.Second

// ExactClient builds exact-scheme payment payloads, dispatching on the
// offer's assetTransferMethod.
type ExactClient struct {
	signer ClientSigner
	now    func() time.Time
}

// NewExactClient creates a payer-side exact mechanism around a signer.
func NewExactClient(signer ClientSigner) *ExactClient {
	return &ExactClient{signer: signer, now: time.Now}
}

func (c *ExactClient) Scheme() string { return SchemeExact }

// CreatePayload signs a payment authorization for the offer.
func (c *ExactClient) CreatePayload(ctx context.Context, requirements x402.PaymentRequirements) (json.RawMessage, error) {
	switch method := TransferMethod(requirements); method {
	case AssetTransferMethodEIP3009:
		return c.createEIP3009(ctx, requirements)
	case AssetTransferMethodPermit2:
		return c.createPermit2(ctx, requirements)
	default:
		return nil, fmt.Errorf("unsupported asset transfer method %q", method)
	}
}

func (c *ExactClient) createEIP3009(ctx context.Context, requirements x402.PaymentRequirements) (json.RawMessage, error) {
	name, version, ok := eip712DomainFromExtra(requirements.Extra)
	if !ok {
		return nil, fmt.Errorf("requirements are missing the EIP-712 domain (extra.name/version)")
	}
	chainID, err := ChainID(requirements.Network)
	if err != nil {
		return nil, err
	}
	nonce, err := randomNonce32()
	if err != nil {
		return nil, err
	}

	now := c.now()
	timeout := requirements.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = x402.DefaultMaxTimeoutSeconds
	}
	auth := EIP3009Authorization{
		From:        c.signer.Address().Hex(),
		To:          requirements.PayTo,
		Value:       requirements.Amount,
		ValidAfter:  strconv.FormatInt(now.Add(-authorizationBackdate).Unix(), 10),
		ValidBefore: strconv.FormatInt(now.Add(time.Duration(timeout)*time.Second).Unix(), 10),
		Nonce:       hexutil.Encode(nonce[:]),
	}

	typed, err := EIP3009TypedData(auth, chainID, requirements.Asset, name, version)
	if err != nil {
		return nil, err
	}
	signature, err := c.signer.SignTypedData(ctx, typed)
	if err != nil {
		return nil, fmt.Errorf("sign transfer authorization: %w", err)
	}

	return json.Marshal(EIP3009Payload{
		Signature:     hexutil.Encode(signature),
		Authorization: auth,
	})
}

func (c *ExactClient) createPermit2(ctx context.Context, requirements x402.PaymentRequirements) (json.RawMessage, error) {
	spender, ok := SettlementContract(requirements.Network)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSettlementContractMissing, requirements.Network)
	}
	chainID, err := ChainID(requirements.Network)
	if err != nil {
		return nil, err
	}
	nonce, err := randomUint256()
	if err != nil {
		return nil, err
	}

	timeout := requirements.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = x402.DefaultMaxTimeoutSeconds
	}
	paymentID := PaymentID(requirements)
	payload := Permit2Payload{
		Token:     requirements.Asset,
		Amount:    requirements.Amount,
		Nonce:     nonce.String(),
		Deadline:  strconv.FormatInt(c.now().Add(time.Duration(timeout)*time.Second).Unix(), 10),
		Owner:     c.signer.Address().Hex(),
		Recipient: requirements.PayTo,
		PaymentID: hexutil.Encode(paymentID[:]),
	}

	typed, err := Permit2TypedData(payload, chainID, spender)
	if err != nil {
		return nil, err
	}
	signature, err := c.signer.SignTypedData(ctx, typed)
	if err != nil {
		return nil, fmt.Errorf("sign permit: %w", err)
	}
	payload.Signature = hexutil.Encode(signature)

	return json.Marshal(payload)
}
