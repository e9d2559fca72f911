package governance

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	// DefaultWindow is the fixed window length.
	DefaultWindow = 60 * time.Second
	// DefaultLimit is the per-client request cap per window.
	DefaultLimit = 100
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration // set when denied, rounded up to whole seconds
}

// Store tracks per-client counters. Implementations must be safe for
// concurrent use; the read-modify-write per key is atomic.
type Store interface {
	// Incr increments the counter for key, creating a fresh window when
	// none exists or the previous one has expired. Returns the new count
	// and the window reset time.
	Incr(ctx context.Context, key string, window time.Duration) (count int, reset time.Time, err error)
}

// Sweeper is implemented by stores that need periodic pruning of expired
// entries. Sweeping is an optimization against unbounded growth, not a
// correctness requirement: expired entries are treated as fresh on access.
type Sweeper interface {
	Sweep() int
}

// Limiter applies a fixed-window cap per client key.
type Limiter struct {
	mu     sync.RWMutex
	store  Store
	limit  int
	window time.Duration
	logger *slog.Logger
}

// NewLimiter creates a limiter over the given store. Zero limit/window
// take the package defaults.
func NewLimiter(store Store, limit int, window time.Duration, logger *slog.Logger) *Limiter {
	if store == nil {
		store = NewMemoryStore()
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{store: store, limit: limit, window: window, logger: logger}
}

// Configure updates the cap and window, used by config hot-reload.
func (l *Limiter) Configure(limit int, window time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit > 0 {
		l.limit = limit
	}
	if window > 0 {
		l.window = window
	}
}

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.window
}

// Allow checks and counts one request for the client key. Store errors
// fail open: availability wins over strict enforcement.
func (l *Limiter) Allow(ctx context.Context, key string) Decision {
	l.mu.RLock()
	limit, window := l.limit, l.window
	l.mu.RUnlock()

	count, reset, err := l.store.Incr(ctx, key, window)
	if err != nil {
		l.logger.Warn("Rate limit store failed, allowing request", "key", key, "error", err)
		return Decision{Allowed: true, Limit: limit, Remaining: limit}
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		Reset:     reset,
	}
	if !d.Allowed {
		secs := math.Ceil(time.Until(reset).Seconds())
		if secs < 1 {
			secs = 1
		}
		d.RetryAfter = time.Duration(secs) * time.Second
	}
	return d
}

// Sweep prunes expired entries when the store supports it.
func (l *Limiter) Sweep() {
	if s, ok := l.store.(Sweeper); ok {
		if n := s.Sweep(); n > 0 {
			l.logger.Debug("Rate limit sweep", "removed", n)
		}
	}
}

// WriteHeaders adds the standard rate-limit headers to a response.
func WriteHeaders(w http.ResponseWriter, d Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.Reset.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	}
	if !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds())))
	}
}

// MemoryStore is the in-process Store: a keyed map with atomic
// read-modify-write per key. Entries live until the sweep or until a
// request finds them expired.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

type entry struct {
	count int
	reset time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Incr implements Store.
func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok || !now.Before(e.reset) {
		e = &entry{count: 0, reset: now.Add(window)}
		s.entries[key] = e
	}
	e.count++
	return e.count, e.reset, nil
}

// Sweep removes entries whose window has passed and reports how many.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, e := range s.entries {
		if !now.Before(e.reset) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of live entries, for tests and stats.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
