package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	x402 "github.com/centripay/x402"
)

// AssetTransferMethod selects the on-chain transfer mechanism for the
// exact scheme. The default, eip3009, covers EIP-3009 stablecoins;
// permit2 is the universal fallback for any ERC-20 and routes through
// the x402 settlement contract.
type AssetTransferMethod string

const (
	AssetTransferMethodEIP3009 AssetTransferMethod = "eip3009"
	AssetTransferMethodPermit2 AssetTransferMethod = "permit2"
)

// TransferMethod reads extra.assetTransferMethod from an offer,
// defaulting to eip3009.
func TransferMethod(requirements x402.PaymentRequirements) AssetTransferMethod {
	if requirements.Extra != nil {
		if m, ok := requirements.Extra["assetTransferMethod"].(string); ok && m != "" {
			return AssetTransferMethod(m)
		}
	}
	return AssetTransferMethodEIP3009
}

// EIP3009Authorization is the TransferWithAuthorization message. Numeric
// fields travel as decimal strings; Nonce is 32 bytes hex.
type EIP3009Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// EIP3009Payload is the exact-scheme payload for the eip3009 transfer
// method.
type EIP3009Payload struct {
	Signature     string               `json:"signature"`
	Authorization EIP3009Authorization `json:"authorization"`
}

// Permit2Payload is the exact-scheme payload for the permit2 transfer
// method. The signed EIP-712 message is PermitWitnessTransferFrom with a
// PaymentOrder witness binding the recipient and paymentId.
type Permit2Payload struct {
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	Nonce     string `json:"nonce"`
	Deadline  string `json:"deadline"`
	Owner     string `json:"owner"`
	Recipient string `json:"recipient"`
	PaymentID string `json:"paymentId"`
	Signature string `json:"signature"`
}

func decodeEIP3009Payload(raw json.RawMessage) (*EIP3009Payload, error) {
	var p EIP3009Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode eip3009 payload: %w", err)
	}
	if p.Authorization.From == "" || p.Authorization.To == "" || p.Authorization.Value == "" || p.Authorization.Nonce == "" {
		return nil, fmt.Errorf("eip3009 payload missing authorization fields")
	}
	return &p, nil
}

func decodePermit2Payload(raw json.RawMessage) (*Permit2Payload, error) {
	var p Permit2Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode permit2 payload: %w", err)
	}
	if p.Token == "" || p.Amount == "" || p.Owner == "" || p.Recipient == "" || p.Signature == "" {
		return nil, fmt.Errorf("permit2 payload missing fields")
	}
	return &p, nil
}

// AssetInfo describes an ERC-20 token and its EIP-712 domain values.
type AssetInfo struct {
	Address  string
	Name     string
	Version  string
	Decimals int
}

// NetworkConfig ties a CAIP-2 network to its chain ID and default asset.
type NetworkConfig struct {
	ChainID      *big.Int
	DefaultAsset AssetInfo
}

// IsValidNetwork reports whether the network has a configuration entry.
func IsValidNetwork(network string) bool {
	_, ok := NetworkConfigs[network]
	return ok
}

// ChainID resolves the chain ID for a concrete eip155 network, falling
// back to the numeric chain reference for networks outside the table.
func ChainID(network x402.Network) (*big.Int, error) {
	if cfg, ok := NetworkConfigs[string(network)]; ok {
		return cfg.ChainID, nil
	}
	ns, ref, err := network.Parse()
	if err != nil {
		return nil, err
	}
	if ns != "eip155" {
		return nil, fmt.Errorf("not an eip155 network: %s", network)
	}
	id, ok := new(big.Int).SetString(ref, 10)
	if !ok {
		return nil, fmt.Errorf("invalid chain reference %q", ref)
	}
	return id, nil
}

// ClientSigner signs EIP-712 typed data on behalf of the payer.
type ClientSigner interface {
	Address() common.Address
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)
}

// Receipt is the subset of a transaction receipt the mechanism needs.
type Receipt struct {
	Status      uint64
	TxHash      string
	BlockNumber uint64
}

// ChainBackend abstracts the facilitator's chain access for one network:
// read-only calls for verification and transaction submission for
// settlement. All methods honor the caller's context deadline.
type ChainBackend interface {
	// CallContract performs an eth_call against to with calldata data.
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)

	// CodeAt returns the bytecode at account, empty for EOAs.
	CodeAt(ctx context.Context, account common.Address) ([]byte, error)

	// SubmitTransaction signs and broadcasts a transaction to to with
	// calldata data and returns the transaction hash.
	SubmitTransaction(ctx context.Context, to common.Address, data []byte) (string, error)

	// WaitForReceipt blocks until the transaction is mined.
	WaitForReceipt(ctx context.Context, txHash string) (*Receipt, error)
}
