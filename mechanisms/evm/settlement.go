package evm

import (
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	x402 "github.com/centripay/x402"
)

// settlementResolver resolves the x402 settlement contract for a chain.
// Precedence: X402_SETTLEMENT_ADDRESS_<chainId>, then the global
// X402_SETTLEMENT_ADDRESS, then the compile-time defaults. Resolution is
// deferred to first use and cached per chain, so late-bound environment
// (.env loaders) is honored.
type settlementResolver struct {
	mu       sync.Mutex
	cache    map[string]string
	getenv   func(string) string
	defaults map[string]string
}

func newSettlementResolver(getenv func(string) string, defaults map[string]string) *settlementResolver {
	return &settlementResolver{
		cache:    make(map[string]string),
		getenv:   getenv,
		defaults: defaults,
	}
}

func (r *settlementResolver) address(chainRef string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if addr, ok := r.cache[chainRef]; ok {
		return addr, addr != ""
	}
	addr := r.getenv(EnvSettlementAddressPrefix + chainRef)
	if addr == "" {
		addr = r.getenv(EnvSettlementAddress)
	}
	if addr == "" {
		addr = r.defaults[chainRef]
	}
	r.cache[chainRef] = addr
	return addr, addr != ""
}

var settlement = newSettlementResolver(os.Getenv, defaultSettlementContracts)

// SettlementContract returns the settlement contract address configured
// for a network, and whether one exists.
func SettlementContract(network x402.Network) (common.Address, bool) {
	ref := network.ChainReference()
	if ref == "" {
		return common.Address{}, false
	}
	addr, ok := settlement.address(ref)
	if !ok {
		return common.Address{}, false
	}
	return common.HexToAddress(addr), true
}
