package evm

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	x402 "github.com/centripay/x402"
)

// testSigner is a minimal in-memory EIP-712 signer for one private key.
type testSigner struct {
	key *ecdsa.PrivateKey
}

func newTestSigner(t *testing.T) *testSigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &testSigner{key: key}
}

func (s *testSigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func (s *testSigner) SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, err
	}
	signature, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, err
	}
	signature[64] += 27
	return signature, nil
}

// fakeBackend is an in-memory ChainBackend. Read calls are answered
// from configured state by inspecting the 4-byte selector; submissions
// are recorded and answered with a configurable receipt.
type fakeBackend struct {
	balance   *big.Int
	allowance *big.Int
	nonceUsed bool
	valid1271 bool
	code      map[common.Address][]byte

	callErr   error
	submitErr error

	receiptStatus uint64
	submittedTo   []common.Address
	submitted     [][]byte
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		balance:       big.NewInt(0),
		allowance:     big.NewInt(0),
		code:          make(map[common.Address][]byte),
		receiptStatus: 1,
	}
}

func (b *fakeBackend) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if b.callErr != nil {
		return nil, b.callErr
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("short calldata")
	}
	selector := data[:4]
	switch {
	case bytes.Equal(selector, parsedERC20.Methods["balanceOf"].ID):
		return parsedERC20.Methods["balanceOf"].Outputs.Pack(b.balance)
	case bytes.Equal(selector, parsedERC20.Methods["allowance"].ID):
		return parsedERC20.Methods["allowance"].Outputs.Pack(b.allowance)
	case bytes.Equal(selector, parsedAuthState.Methods["authorizationState"].ID):
		return parsedAuthState.Methods["authorizationState"].Outputs.Pack(b.nonceUsed)
	case bytes.Equal(selector, parsedEIP1271.Methods["isValidSignature"].ID):
		magic := [4]byte{}
		if b.valid1271 {
			magic = [4]byte{0x16, 0x26, 0xba, 0x7e}
		}
		return parsedEIP1271.Methods["isValidSignature"].Outputs.Pack(magic)
	}
	return nil, fmt.Errorf("unexpected call selector %x", selector)
}

func (b *fakeBackend) CodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	if b.callErr != nil {
		return nil, b.callErr
	}
	return b.code[account], nil
}

func (b *fakeBackend) SubmitTransaction(ctx context.Context, to common.Address, data []byte) (string, error) {
	if b.submitErr != nil {
		return "", b.submitErr
	}
	b.submittedTo = append(b.submittedTo, to)
	b.submitted = append(b.submitted, data)
	return fmt.Sprintf("0x%064x", len(b.submitted)), nil
}

func (b *fakeBackend) WaitForReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	return &Receipt{Status: b.receiptStatus, TxHash: txHash, BlockNumber: 1}, nil
}

const testNetwork = x402.Network("eip155:84532")

func eip3009Offer(payTo string, amount string) x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            SchemeExact,
		Network:           testNetwork,
		Asset:             NetworkConfigs[string(testNetwork)].DefaultAsset.Address,
		Amount:            amount,
		PayTo:             payTo,
		MaxTimeoutSeconds: 300,
		Extra:             map[string]interface{}{"name": "USDC", "version": "2"},
	}
}

func permit2Offer(payTo, asset, amount string) x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            SchemeExact,
		Network:           testNetwork,
		Asset:             asset,
		Amount:            amount,
		PayTo:             payTo,
		MaxTimeoutSeconds: 300,
		Extra:             map[string]interface{}{"assetTransferMethod": "permit2"},
	}
}

func createPayload(t *testing.T, signer ClientSigner, offer x402.PaymentRequirements) x402.PaymentPayload {
	t.Helper()
	client := NewExactClient(signer)
	body, err := client.CreatePayload(context.Background(), offer)
	if err != nil {
		t.Fatalf("create payload: %v", err)
	}
	return x402.PaymentPayload{
		X402Version: x402.ProtocolVersion,
		Scheme:      offer.Scheme,
		Network:     offer.Network,
		Payload:     body,
		Accepted:    offer,
	}
}

func jsonUnmarshal(raw json.RawMessage, v interface{}) error {
	return json.Unmarshal(raw, v)
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func newTestFacilitator(backend ChainBackend, opts ...FacilitatorOption) *ExactFacilitator {
	return NewExactFacilitator(map[x402.Network]ChainBackend{testNetwork: backend}, opts...)
}
