package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const defaultSweepInterval = 10 * time.Minute

// entry holds the admitted timestamps of one identifier+category pair.
type entry struct {
	mu     sync.Mutex
	stamps []time.Time
	// dead is set by the sweeper after the entry was removed from the map.
	dead bool
}

// prune drops timestamps at or before cutoff. Caller holds e.mu.
func (e *entry) prune(cutoff time.Time) {
	i := 0
	for i < len(e.stamps) && !e.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		e.stamps = append(e.stamps[:0], e.stamps[i:]...)
	}
}

// MemoryLimiter is a process-local sliding-window limiter. Requests for the
// same identifier are serialized on that identifier's entry only.
type MemoryLimiter struct {
	policies      Policies
	entries       sync.Map // string -> *entry
	now           func() time.Time
	sweepInterval time.Duration
	lastSweep     atomic.Int64 // unix nanos
	sweeping      atomic.Bool
}

// MemoryOption configures a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) { l.now = now }
}

// WithSweepInterval sets the minimum time between opportunistic sweeps.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(l *MemoryLimiter) {
		if d > 0 {
			l.sweepInterval = d
		}
	}
}

// NewMemoryLimiter creates an in-memory limiter for the given policies.
func NewMemoryLimiter(policies Policies, opts ...MemoryOption) *MemoryLimiter {
	l := &MemoryLimiter{
		policies:      policies,
		now:           time.Now,
		sweepInterval: defaultSweepInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastSweep.Store(l.now().UnixNano())
	return l
}

// Admit records a request for identifier if it is under the category ceiling.
func (l *MemoryLimiter) Admit(_ context.Context, identifier string, category Category) bool {
	policy, ok := l.policies[category]
	if !ok || policy.Limit <= 0 {
		return false
	}

	key := entryKey(identifier, category)
	now := l.now()
	l.maybeSweep(now)

	for {
		e := l.load(key)
		e.mu.Lock()
		if e.dead {
			// Swept between load and lock; retry against a fresh entry.
			e.mu.Unlock()
			continue
		}
		e.prune(now.Add(-policy.Window))
		if len(e.stamps) >= policy.Limit {
			e.mu.Unlock()
			return false
		}
		e.stamps = append(e.stamps, now)
		e.mu.Unlock()
		return true
	}
}

// Remaining returns how many more requests identifier may make right now.
func (l *MemoryLimiter) Remaining(_ context.Context, identifier string, category Category) int {
	policy, ok := l.policies[category]
	if !ok {
		return 0
	}

	v, ok := l.entries.Load(entryKey(identifier, category))
	if !ok {
		return policy.Limit
	}
	e := v.(*entry)

	cutoff := l.now().Add(-policy.Window)
	e.mu.Lock()
	count := 0
	for _, ts := range e.stamps {
		if ts.After(cutoff) {
			count++
		}
	}
	e.mu.Unlock()

	if remaining := policy.Limit - count; remaining > 0 {
		return remaining
	}
	return 0
}

// Len returns the number of tracked identifier+category pairs.
func (l *MemoryLimiter) Len() int {
	n := 0
	l.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Sweep removes entries that hold no timestamps inside their window.
func (l *MemoryLimiter) Sweep() int {
	now := l.now()
	removed := 0

	l.entries.Range(func(k, v any) bool {
		key := k.(string)
		e := v.(*entry)

		policy, ok := l.policies[categoryOf(key)]
		if !ok {
			return true
		}

		e.mu.Lock()
		e.prune(now.Add(-policy.Window))
		if len(e.stamps) == 0 && l.entries.CompareAndDelete(key, e) {
			e.dead = true
			removed++
		}
		e.mu.Unlock()
		return true
	})

	l.lastSweep.Store(now.UnixNano())
	return removed
}

func (l *MemoryLimiter) maybeSweep(now time.Time) {
	last := time.Unix(0, l.lastSweep.Load())
	if now.Sub(last) < l.sweepInterval {
		return
	}
	if !l.sweeping.CompareAndSwap(false, true) {
		return
	}
	l.lastSweep.Store(now.UnixNano())

	go func() {
		defer l.sweeping.Store(false)
		removed := l.Sweep()
		slog.Debug("rate limiter sweep", "removed", removed, "remaining", l.Len())
	}()
}

func (l *MemoryLimiter) load(key string) *entry {
	if v, ok := l.entries.Load(key); ok {
		return v.(*entry)
	}
	v, _ := l.entries.LoadOrStore(key, &entry{})
	return v.(*entry)
}

// entryKey prefixes the identifier with its category so that one identifier
// used under two categories keeps two independent windows.
func entryKey(identifier string, category Category) string {
	return string(category) + "|" + identifier
}

func categoryOf(key string) Category {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return Category(key[:i])
		}
	}
	return ""
}
