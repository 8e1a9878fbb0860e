package x402

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// PayloadKey derives the verified-store key for a payload: the sha256 of
// its canonical JSON bytes, hex encoded. Byte-identical payloads map to
// the same key regardless of field ordering in transit.
func PayloadKey(payload PaymentPayload) (string, error) {
	raw, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// verifiedStore remembers which payloads passed verification so a
// standalone facilitator can refuse to settle anything else. Entries
// expire after the TTL; eviction is lazy, on access.
type verifiedStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
	now     func() time.Time
}

func newVerifiedStore(ttl time.Duration) *verifiedStore {
	return &verifiedStore{
		ttl:     ttl,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *verifiedStore) record(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
	s.entries[key] = s.now().Add(s.ttl)
}

func (s *verifiedStore) seen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
	_, ok := s.entries[key]
	return ok
}

func (s *verifiedStore) evictLocked() {
	now := s.now()
	for key, deadline := range s.entries {
		if deadline.Before(now) {
			delete(s.entries, key)
		}
	}
}
