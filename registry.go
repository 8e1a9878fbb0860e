package x402

// registry maps (scheme, network-pattern) pairs to one mechanism role.
// Patterns may be concrete ("eip155:8453") or family wildcards
// ("eip155:*"); lookup prefers the most specific match. Registries are
// populated at startup and read-only afterwards, so no locking.
type registry[T any] struct {
	schemes map[string][]registryEntry[T]
}

type registryEntry[T any] struct {
	pattern Network
	value   T
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{schemes: make(map[string][]registryEntry[T])}
}

// add registers value under (scheme, pattern), replacing any previous
// registration with the identical pattern.
func (r *registry[T]) add(scheme string, pattern Network, value T) {
	entries := r.schemes[scheme]
	for i, e := range entries {
		if e.pattern == pattern {
			entries[i].value = value
			return
		}
	}
	r.schemes[scheme] = append(entries, registryEntry[T]{pattern: pattern, value: value})
}

// lookup finds the best registration for a concrete network: an exact
// pattern wins over a family wildcard.
func (r *registry[T]) lookup(scheme string, network Network) (T, bool) {
	var (
		wildcard T
		found    bool
	)
	for _, e := range r.schemes[scheme] {
		if e.pattern == network {
			return e.value, true
		}
		if network.Match(e.pattern) && !found {
			wildcard = e.value
			found = true
		}
	}
	return wildcard, found
}

// each visits every registration in insertion order per scheme.
func (r *registry[T]) each(fn func(scheme string, pattern Network, value T)) {
	for scheme, entries := range r.schemes {
		for _, e := range entries {
			fn(scheme, e.pattern, e.value)
		}
	}
}
