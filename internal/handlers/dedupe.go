package handlers

import (
	"sync"
	"time"
)

// deduplicator remembers recently seen hook delivery ids.
// Host automated actions retry on timeout and may deliver the same change twice.
type deduplicator struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func newDeduplicator(ttl time.Duration) *deduplicator {
	return &deduplicator{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

// IsDuplicate reports whether id was seen within the ttl and records it otherwise
func (d *deduplicator) IsDuplicate(id string) bool {
	if id == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if at, ok := d.seen[id]; ok && now.Sub(at) < d.ttl {
		return true
	}
	d.seen[id] = now

	// Cleanup old entries if map gets too big
	if len(d.seen) > 10000 {
		for k, v := range d.seen {
			if now.Sub(v) > 2*d.ttl {
				delete(d.seen, k)
			}
		}
	}
	return false
}
