package governance

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(start time.Time) (*time.Time, func() time.Time) {
	now := start
	return &now, func() time.Time { return now }
}

func TestLimiterFixedWindow(t *testing.T) {
	store := NewMemoryStore()
	now, clock := fixedClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	store.now = clock

	l := NewLimiter(store, 100, 60*time.Second, nil)
	ctx := context.Background()

	var d Decision
	for i := 0; i < 100; i++ {
		d = l.Allow(ctx, "10.1.2.3")
		require.True(t, d.Allowed, "request %d should be allowed", i+1)
	}
	assert.Equal(t, 0, d.Remaining, "100th request exhausts the window")

	d = l.Allow(ctx, "10.1.2.3")
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, 60*time.Second)

	// Another client is unaffected.
	d = l.Allow(ctx, "10.9.9.9")
	assert.True(t, d.Allowed)
	assert.Equal(t, 99, d.Remaining)

	// After the window elapses the count resets to 1.
	*now = now.Add(61 * time.Second)
	d = l.Allow(ctx, "10.1.2.3")
	assert.True(t, d.Allowed)
	assert.Equal(t, 99, d.Remaining)
}

func TestLimiterRetryAfterRoundsUp(t *testing.T) {
	store := NewMemoryStore()
	now, clock := fixedClock(time.Now())
	store.now = clock

	l := NewLimiter(store, 1, 60*time.Second, nil)
	ctx := context.Background()

	require.True(t, l.Allow(ctx, "c").Allowed)
	*now = now.Add(30*time.Second + 300*time.Millisecond)
	d := l.Allow(ctx, "c")
	require.False(t, d.Allowed)
	// Remaining window is 29.7s; the retry hint rounds up to a whole second.
	assert.Equal(t, time.Duration(0), d.RetryAfter%time.Second)
	assert.GreaterOrEqual(t, d.RetryAfter, 29*time.Second)
}

func TestMemoryStoreSweep(t *testing.T) {
	store := NewMemoryStore()
	now, clock := fixedClock(time.Now())
	store.now = clock

	ctx := context.Background()
	_, _, err := store.Incr(ctx, "a", time.Minute)
	require.NoError(t, err)
	_, _, err = store.Incr(ctx, "b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())

	assert.Equal(t, 0, store.Sweep(), "nothing expired yet")

	*now = now.Add(2 * time.Minute)
	assert.Equal(t, 2, store.Sweep())
	assert.Equal(t, 0, store.Len())
}

type failingStore struct{}

func (failingStore) Incr(context.Context, string, time.Duration) (int, time.Time, error) {
	return 0, time.Time{}, errors.New("bookkeeping broken")
}

func TestLimiterFailsOpen(t *testing.T) {
	l := NewLimiter(failingStore{}, 5, time.Minute, nil)
	d := l.Allow(context.Background(), "any")
	assert.True(t, d.Allowed)
}

func TestLimiterConfigure(t *testing.T) {
	l := NewLimiter(NewMemoryStore(), 100, time.Minute, nil)
	l.Configure(2, 30*time.Second)
	assert.Equal(t, 30*time.Second, l.Window())

	ctx := context.Background()
	assert.True(t, l.Allow(ctx, "k").Allowed)
	assert.True(t, l.Allow(ctx, "k").Allowed)
	assert.False(t, l.Allow(ctx, "k").Allowed)
}

func TestWriteHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	WriteHeaders(w, Decision{
		Allowed:    false,
		Limit:      100,
		Remaining:  0,
		Reset:      time.Unix(1750000000, 0),
		RetryAfter: 42 * time.Second,
	})
	assert.Equal(t, "100", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1750000000", w.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, "42", w.Header().Get("Retry-After"))
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client)
	l := NewLimiter(store, 3, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow(ctx, "client").Allowed)
	}
	d := l.Allow(ctx, "client")
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))

	// Expiry opens a fresh window.
	mr.FastForward(2 * time.Minute)
	d = l.Allow(ctx, "client")
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
}
