package x402

import (
	"fmt"
	"strings"
)

// Network is a blockchain network identifier in CAIP-2 form,
// "namespace:reference" (e.g. "eip155:8453"). The reference "*" denotes
// any network of the namespace and is only meaningful as a registration
// pattern, never on the wire.
type Network string

// Parse splits the network into its namespace and reference components.
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.SplitN(string(n), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid CAIP-2 network %q", string(n))
	}
	return parts[0], parts[1], nil
}

// ChainReference returns the reference component ("8453" for "eip155:8453").
func (n Network) ChainReference() string {
	_, ref, err := n.Parse()
	if err != nil {
		return ""
	}
	return ref
}

// IsWildcard reports whether the network is a family pattern such as "eip155:*".
func (n Network) IsWildcard() bool {
	return strings.HasSuffix(string(n), ":*")
}

// Match reports whether this network satisfies pattern. A concrete network
// matches itself and its family wildcard; a wildcard matches any concrete
// network of the same family.
func (n Network) Match(pattern Network) bool {
	if n == pattern {
		return true
	}
	if pattern.IsWildcard() {
		return strings.HasPrefix(string(n), strings.TrimSuffix(string(pattern), "*"))
	}
	if n.IsWildcard() {
		return strings.HasPrefix(string(pattern), strings.TrimSuffix(string(n), "*"))
	}
	return false
}
