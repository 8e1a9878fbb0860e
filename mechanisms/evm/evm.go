// Package evm implements the exact payment scheme on EVM networks, in
// two variants: EIP-3009 transferWithAuthorization for compatible
// stablecoins, and Permit2 with an x402 settlement contract for any
// ERC-20. It provides all three mechanism roles: client payload
// construction, server price parsing, and facilitator verify/settle.
package evm

import (
	x402 "github.com/centripay/x402"
)

// RegisterClient registers the exact EVM client for the given networks,
// or for every configured network when none are named.
func RegisterClient(client *x402.Client, signer ClientSigner, networks ...x402.Network) {
	mech := NewExactClient(signer)
	for _, network := range configuredNetworks(networks) {
		client.Register(network, mech)
	}
}

// RegisterService registers the exact EVM service on a resource server
// for the given networks, or for every configured network when none are
// named.
func RegisterService(server *x402.ResourceServer, networks ...x402.Network) {
	mech := NewExactService()
	for _, network := range configuredNetworks(networks) {
		server.RegisterService(network, mech)
	}
}

// ServiceOptions returns resource server options registering the exact
// EVM service, for use at construction time.
func ServiceOptions(networks ...x402.Network) []x402.ResourceServerOption {
	mech := NewExactService()
	opts := make([]x402.ResourceServerOption, 0, len(networks))
	for _, network := range configuredNetworks(networks) {
		opts = append(opts, x402.WithService(network, mech))
	}
	return opts
}

func configuredNetworks(networks []x402.Network) []x402.Network {
	if len(networks) > 0 {
		return networks
	}
	all := make([]x402.Network, 0, len(NetworkConfigs))
	for network := range NetworkConfigs {
		all = append(all, x402.Network(network))
	}
	return all
}
