package evm

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// erc6492MagicSuffix is the trailing 32 bytes of an ERC-6492 wrapped
// signature: bytes32(uint256(keccak256("erc6492.invalid.signature")) - 1).
var erc6492MagicSuffix = common.Hex2Bytes("6492649264926492649264926492649264926492649264926492649264926492")

// ERC6492Signature is a parsed ERC-6492 counterfactual signature: the
// factory deployment that would create the wallet, plus the inner
// EIP-1271 (or EOA) signature the deployed wallet validates.
type ERC6492Signature struct {
	Factory         common.Address
	FactoryCalldata []byte
	Signature       []byte
}

// IsERC6492 reports whether the signature carries the ERC-6492 magic
// suffix.
func IsERC6492(signature []byte) bool {
	if len(signature) < 32 {
		return false
	}
	return bytes.Equal(signature[len(signature)-32:], erc6492MagicSuffix)
}

var erc6492Args = abi.Arguments{
	{Type: mustType("address")},
	{Type: mustType("bytes")},
	{Type: mustType("bytes")},
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// ParseERC6492 unwraps an ERC-6492 signature into its components.
func ParseERC6492(signature []byte) (*ERC6492Signature, error) {
	if !IsERC6492(signature) {
		return nil, fmt.Errorf("not an ERC-6492 signature")
	}
	values, err := erc6492Args.Unpack(signature[:len(signature)-32])
	if err != nil {
		return nil, fmt.Errorf("unpack ERC-6492 signature: %w", err)
	}
	if len(values) != 3 {
		return nil, fmt.Errorf("unexpected ERC-6492 component count %d", len(values))
	}
	factory, ok := values[0].(common.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected ERC-6492 factory type %T", values[0])
	}
	calldata, ok := values[1].([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected ERC-6492 calldata type %T", values[1])
	}
	inner, ok := values[2].([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected ERC-6492 inner signature type %T", values[2])
	}
	return &ERC6492Signature{Factory: factory, FactoryCalldata: calldata, Signature: inner}, nil
}

// WrapERC6492 produces an ERC-6492 signature from deployment info and an
// inner signature. Used by smart-wallet clients and the test harness.
func WrapERC6492(factory common.Address, factoryCalldata, signature []byte) ([]byte, error) {
	packed, err := erc6492Args.Pack(factory, factoryCalldata, signature)
	if err != nil {
		return nil, fmt.Errorf("pack ERC-6492 signature: %w", err)
	}
	return append(packed, erc6492MagicSuffix...), nil
}
