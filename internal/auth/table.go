package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

const (
	defaultTokenBytes = 32
	maxTokenAttempts  = 4
)

var errTokenCollision = errors.New("auth: could not generate a unique token")

type expiringEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// ExpiringTable maps random tokens to values that lapse after a fixed TTL.
// Expired entries are treated as absent and are purged whenever a new token
// is inserted.
type ExpiringTable[V any] struct {
	mu         sync.RWMutex
	entries    map[string]expiringEntry[V]
	ttl        time.Duration
	tokenBytes int
	clock      func() time.Time
}

func NewExpiringTable[V any](ttl time.Duration, clock func() time.Time) *ExpiringTable[V] {
	if clock == nil {
		clock = time.Now
	}
	return &ExpiringTable[V]{
		entries:    make(map[string]expiringEntry[V]),
		ttl:        ttl,
		tokenBytes: defaultTokenBytes,
		clock:      clock,
	}
}

// Insert stores value under a fresh token and returns the token with its expiry.
func (t *ExpiringTable[V]) Insert(value V) (string, time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock()
	t.compactLocked(now)

	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token, err := randomToken(t.tokenBytes)
		if err != nil {
			return "", time.Time{}, err
		}
		if _, taken := t.entries[token]; taken {
			continue
		}
		expiresAt := now.Add(t.ttl)
		t.entries[token] = expiringEntry[V]{value: value, expiresAt: expiresAt}
		return token, expiresAt, nil
	}
	return "", time.Time{}, errTokenCollision
}

// Get returns the value for token if it has not expired.
func (t *ExpiringTable[V]) Get(token string) (V, time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.entries[token]
	if !ok || !t.clock().Before(entry.expiresAt) {
		var zero V
		return zero, time.Time{}, false
	}
	return entry.value, entry.expiresAt, true
}

// Take removes token and returns its value if it had not expired.
func (t *ExpiringTable[V]) Take(token string) (V, time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[token]
	delete(t.entries, token)
	if !ok || !t.clock().Before(entry.expiresAt) {
		var zero V
		return zero, time.Time{}, false
	}
	return entry.value, entry.expiresAt, true
}

// Put stores value under a known token until expiresAt.
func (t *ExpiringTable[V]) Put(token string, value V, expiresAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[token] = expiringEntry[V]{value: value, expiresAt: expiresAt}
}

// Remove deletes token and reports whether it was present.
func (t *ExpiringTable[V]) Remove(token string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[token]
	delete(t.entries, token)
	return ok
}

// Len counts stored entries, including expired ones not yet purged.
func (t *ExpiringTable[V]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func (t *ExpiringTable[V]) compactLocked(now time.Time) {
	for token, entry := range t.entries {
		if !now.Before(entry.expiresAt) {
			delete(t.entries, token)
		}
	}
}

func randomToken(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
