package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	x402 "github.com/centripay/x402"
)

// EIP3009TypedData builds the TransferWithAuthorization typed data for
// signing or recovery. The domain is the token's own EIP-712 domain.
func EIP3009TypedData(auth EIP3009Authorization, chainID *big.Int, token, name, version string) (apitypes.TypedData, error) {
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return apitypes.TypedData{}, fmt.Errorf("invalid authorization value %q", auth.Value)
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return apitypes.TypedData{}, fmt.Errorf("invalid validAfter %q", auth.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return apitypes.TypedData{}, fmt.Errorf("invalid validBefore %q", auth.ValidBefore)
	}
	nonce, err := HexToBytes32(auth.Nonce)
	if err != nil {
		return apitypes.TypedData{}, fmt.Errorf("invalid nonce: %w", err)
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": {
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              name,
			Version:           version,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: common.HexToAddress(token).Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        common.HexToAddress(auth.From).Hex(),
			"to":          common.HexToAddress(auth.To).Hex(),
			"value":       (*math.HexOrDecimal256)(value),
			"validAfter":  (*math.HexOrDecimal256)(validAfter),
			"validBefore": (*math.HexOrDecimal256)(validBefore),
			"nonce":       nonce[:],
		},
	}, nil
}

// Permit2TypedData builds the PermitWitnessTransferFrom typed data with
// the PaymentOrder witness. Permit2's domain is fixed: name "Permit2",
// no version, the canonical contract as verifier. The spender is the
// settlement contract for the target network.
func Permit2TypedData(p Permit2Payload, chainID *big.Int, spender common.Address) (apitypes.TypedData, error) {
	amount, ok := new(big.Int).SetString(p.Amount, 10)
	if !ok {
		return apitypes.TypedData{}, fmt.Errorf("invalid permit2 amount %q", p.Amount)
	}
	nonce, ok := new(big.Int).SetString(p.Nonce, 10)
	if !ok {
		return apitypes.TypedData{}, fmt.Errorf("invalid permit2 nonce %q", p.Nonce)
	}
	deadline, ok := new(big.Int).SetString(p.Deadline, 10)
	if !ok {
		return apitypes.TypedData{}, fmt.Errorf("invalid permit2 deadline %q", p.Deadline)
	}
	paymentID, err := HexToBytes32(p.PaymentID)
	if err != nil {
		return apitypes.TypedData{}, fmt.Errorf("invalid paymentId: %w", err)
	}
	token := common.HexToAddress(p.Token).Hex()

	return apitypes.TypedData{
		Types: apitypes.Types{
			// Permit2's domain has no version field.
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"PermitWitnessTransferFrom": {
				{Name: "permitted", Type: "TokenPermissions"},
				{Name: "spender", Type: "address"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
				{Name: "witness", Type: "PaymentOrder"},
			},
			"TokenPermissions": {
				{Name: "token", Type: "address"},
				{Name: "amount", Type: "uint256"},
			},
			"PaymentOrder": {
				{Name: "token", Type: "address"},
				{Name: "amount", Type: "uint256"},
				{Name: "recipient", Type: "address"},
				{Name: "paymentId", Type: "bytes32"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: "PermitWitnessTransferFrom",
		Domain: apitypes.TypedDataDomain{
			Name:              "Permit2",
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: common.HexToAddress(Permit2Address).Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"permitted": map[string]interface{}{
				"token":  token,
				"amount": (*math.HexOrDecimal256)(amount),
			},
			"spender":  spender.Hex(),
			"nonce":    (*math.HexOrDecimal256)(nonce),
			"deadline": (*math.HexOrDecimal256)(deadline),
			"witness": map[string]interface{}{
				"token":     token,
				"amount":    (*math.HexOrDecimal256)(amount),
				"recipient": common.HexToAddress(p.Recipient).Hex(),
				"paymentId": paymentID[:],
				"nonce":     (*math.HexOrDecimal256)(nonce),
				"deadline":  (*math.HexOrDecimal256)(deadline),
			},
		},
	}, nil
}

// HashTypedData returns the EIP-712 digest of typed data:
// keccak256(0x19 0x01 || domainSeparator || structHash).
func HashTypedData(data apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}
	return hash, nil
}

// RecoverSigner recovers the address that produced a 65-byte ECDSA
// signature over the given EIP-712 digest.
func RecoverSigner(digest []byte, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("expected 65-byte signature, got %d", len(signature))
	}
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// PaymentID derives the Permit2 witness paymentId from an offer:
// keccak256 of extra.resourceUrl, or of the fixed seed when absent.
func PaymentID(requirements x402.PaymentRequirements) [32]byte {
	seed := DefaultPaymentIDSeed
	if requirements.Extra != nil {
		if url, ok := requirements.Extra["resourceUrl"].(string); ok && url != "" {
			seed = url
		}
	}
	var id [32]byte
	copy(id[:], crypto.Keccak256([]byte(seed)))
	return id
}
