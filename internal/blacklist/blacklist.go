// Package blacklist implements BlacklistRegistry (spec.md §4.3):
// time-bounded disqualification of endpoints with lazy TTL expiry.
package blacklist

import (
	"sync"
	"time"

	"github.com/defgrid/tunnelrotor/internal/catalog"
)

// Registry tracks temporarily-disqualified endpoint names. All
// operations are mutually exclusive (spec.md §4.3 "Thread-safety").
type Registry struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]time.Time
}

// New constructs a Registry with the given TTL (spec.md §3: default 24h).
func New(ttl time.Duration) *Registry {
	return &Registry{
		ttl:     ttl,
		entries: make(map[string]time.Time),
	}
}

// Add records now against name, overwriting any prior entry.
func (r *Registry) Add(name string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = now
}

// IsBlocked reports whether name is currently disqualified. An
// expired entry is evicted as a side effect of this check (spec.md
// §4.3, §8 invariant 3: is_blocked(N, t') iff t <= t' < t+TTL).
func (r *Registry) IsBlocked(name string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entered, ok := r.entries[name]
	if !ok {
		return false
	}

	if now.Sub(entered) >= r.ttl {
		delete(r.entries, name)
		return false
	}

	return true
}

// Filter returns the subset of endpoints that are not currently blocked.
func (r *Registry) Filter(endpoints []catalog.Endpoint, now time.Time) []catalog.Endpoint {
	out := make([]catalog.Endpoint, 0, len(endpoints))
	for _, e := range endpoints {
		if !r.IsBlocked(e.Name, now) {
			out = append(out, e)
		}
	}
	return out
}
