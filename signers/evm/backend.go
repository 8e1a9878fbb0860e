package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	mechevm "github.com/centripay/x402/mechanisms/evm"
)

// defaultReceiptPollInterval paces the receipt wait loop.
const defaultReceiptPollInterval = 2 * time.Second

// RPCBackend is a facilitator chain backend over a JSON-RPC endpoint.
// It signs settlement transactions with a single funded key; nonce
// assignment is serialized under a lock so concurrent settlements do
// not collide.
type RPCBackend struct {
	client       *ethclient.Client
	key          *ecdsa.PrivateKey
	address      common.Address
	chainID      *big.Int
	pollInterval time.Duration

	mu sync.Mutex
}

// DialBackend connects to rpcURL and prepares a backend signing with
// the given hex private key.
func DialBackend(ctx context.Context, rpcURL, hexKey string) (*RPCBackend, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	return &RPCBackend{
		client:       client,
		key:          key,
		address:      crypto.PubkeyToAddress(key.PublicKey),
		chainID:      chainID,
		pollInterval: defaultReceiptPollInterval,
	}, nil
}

// Address returns the transaction-signing account.
func (b *RPCBackend) Address() common.Address {
	return b.address
}

// ChainID returns the connected chain's id.
func (b *RPCBackend) ChainID() *big.Int {
	return b.chainID
}

// Close releases the underlying RPC connection.
func (b *RPCBackend) Close() {
	b.client.Close()
}

// CallContract performs an eth_call against the latest block.
func (b *RPCBackend) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return b.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// CodeAt returns the bytecode at account on the latest block.
func (b *RPCBackend) CodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return b.client.CodeAt(ctx, account, nil)
}

// SubmitTransaction signs and broadcasts a transaction carrying data to
// the target contract and returns its hash.
func (b *RPCBackend) SubmitTransaction(ctx context.Context, to common.Address, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	nonce, err := b.client.PendingNonceAt(ctx, b.address)
	if err != nil {
		return "", fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := b.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("suggest gas price: %w", err)
	}
	gasLimit, err := b.client.EstimateGas(ctx, ethereum.CallMsg{
		From: b.address,
		To:   &to,
		Data: data,
	})
	if err != nil {
		return "", fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(b.chainID), b.key)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	if err := b.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}
	return signed.Hash().Hex(), nil
}

// WaitForReceipt polls until the transaction is mined or the context
// expires.
func (b *RPCBackend) WaitForReceipt(ctx context.Context, txHash string) (*mechevm.Receipt, error) {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := b.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return &mechevm.Receipt{
				Status:      receipt.Status,
				TxHash:      receipt.TxHash.Hex(),
				BlockNumber: receipt.BlockNumber.Uint64(),
			}, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("fetch receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
