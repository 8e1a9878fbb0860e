package evm

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// HexToBytes decodes a hex string with or without the 0x prefix.
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 != 0 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}

// HexToBytes32 decodes a hex string into exactly 32 bytes.
func HexToBytes32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := HexToBytes(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// SameAddress compares two hex addresses case-insensitively.
func SameAddress(a, b string) bool {
	return common.HexToAddress(a) == common.HexToAddress(b)
}

// randomNonce32 returns 32 cryptographically random bytes.
func randomNonce32() ([32]byte, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, nil
}

// randomUint256 returns a random 256-bit unsigned integer. Permit2
// treats the nonce as a position in the owner's bitmap, so uniform
// randomness gives collision-free unordered nonces.
func randomUint256() (*big.Int, error) {
	nonce, err := randomNonce32()
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(nonce[:]), nil
}

// parseAmount parses a base-unit decimal string into a non-negative
// big.Int.
func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

// eip712DomainFromExtra extracts the token's EIP-712 name and version
// from requirements extra.
func eip712DomainFromExtra(extra map[string]interface{}) (name, version string, ok bool) {
	if extra == nil {
		return "", "", false
	}
	name, nameOK := extra["name"].(string)
	version, versionOK := extra["version"].(string)
	if !nameOK || !versionOK || name == "" || version == "" {
		return "", "", false
	}
	return name, version, true
}
