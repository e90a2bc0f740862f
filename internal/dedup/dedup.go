// Package dedup keeps track of stanzas that were already processed so a
// redelivered stanza is never handled twice.
package dedup

import (
	"context"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Guard remembers stanza keys.
type Guard interface {
	// FirstSeen records key and reports whether it was new. Checking and
	// recording happen atomically.
	FirstSeen(ctx context.Context, key string) (bool, error)
	// Forget drops key so the stanza can be processed again.
	Forget(ctx context.Context, key string) error
}

// Key fingerprints the parts identifying a stanza.
func Key(parts ...string) string {
	sum := blake2b.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

// Memory is a Guard for a single process. Keys expire after ttl; a zero
// ttl keeps them forever.
type Memory struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
	ops  int
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:  ttl,
		now:  time.Now,
		seen: make(map[string]time.Time),
	}
}

func (m *Memory) FirstSeen(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.ops++
	if m.ttl > 0 && m.ops%256 == 0 {
		m.prune(now)
	}

	if at, ok := m.seen[key]; ok && !m.expired(at, now) {
		return false, nil
	}
	m.seen[key] = now
	return true, nil
}

func (m *Memory) Forget(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, key)
	return nil
}

// Len returns the number of remembered keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

func (m *Memory) expired(at, now time.Time) bool {
	return m.ttl > 0 && now.Sub(at) >= m.ttl
}

func (m *Memory) prune(now time.Time) {
	for k, at := range m.seen {
		if m.expired(at, now) {
			delete(m.seen, k)
		}
	}
}

// Nop never reports a duplicate.
type Nop struct{}

func (Nop) FirstSeen(context.Context, string) (bool, error) { return true, nil }
func (Nop) Forget(context.Context, string) error            { return nil }
