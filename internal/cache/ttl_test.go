package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestTTLSetGet(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := New[string, int](WithSweepInterval(0), WithClock(clk.Now))
	defer c.Close()

	c.Set("a", 1, time.Minute)
	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)
	require.True(t, c.Has("a"))
	require.False(t, c.Has("missing"))
}

func TestTTLExpiredReadIsMissAndRemoves(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := New[string, string](WithSweepInterval(0), WithClock(clk.Now))
	defer c.Close()

	c.Set("k", "v", time.Second)
	require.Equal(t, 1, c.Len())

	clk.Advance(time.Second)
	_, ok := c.Get("k")
	require.False(t, ok)
	require.Equal(t, 0, c.Len(), "stale entry should be dropped on read")
}

func TestTTLNonPositiveNeverExpires(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := New[string, bool](WithSweepInterval(0), WithClock(clk.Now))
	defer c.Close()

	c.Set("forever", true, 0)
	clk.Advance(1000 * time.Hour)
	require.True(t, c.Has("forever"))
}

func TestTTLClearAndDelete(t *testing.T) {
	t.Parallel()

	c := New[int, int](WithSweepInterval(0))
	defer c.Close()

	for i := 0; i < 5; i++ {
		c.Set(i, i*i, time.Hour)
	}
	c.Delete(2)
	require.False(t, c.Has(2))
	require.Equal(t, 4, c.Len())

	c.Clear()
	require.Equal(t, 0, c.Len())
	require.False(t, c.Has(0))
}

func TestTTLPurge(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := New[string, int](WithSweepInterval(0), WithClock(clk.Now))
	defer c.Close()

	c.Set("short", 1, time.Second)
	c.Set("long", 2, time.Hour)
	clk.Advance(time.Minute)

	require.Equal(t, 1, c.Purge())
	require.Equal(t, 1, c.Len())
	require.True(t, c.Has("long"))
}

func TestTTLBackgroundSweep(t *testing.T) {
	t.Parallel()

	c := New[string, int](WithSweepInterval(5 * time.Millisecond))
	defer c.Close()

	c.Set("gone", 1, time.Millisecond)
	require.Eventually(t, func() bool {
		return c.Len() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestTTLCloseIdempotent(t *testing.T) {
	t.Parallel()

	c := New[string, int](WithSweepInterval(time.Millisecond))
	c.Close()
	require.NotPanics(t, c.Close)
}

func TestTTLConcurrentAccess(t *testing.T) {
	t.Parallel()

	c := New[int, int](WithSweepInterval(time.Millisecond))
	defer c.Close()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.Set(w*1000+i, i, time.Hour)
				c.Get(w*1000 + i)
			}
		}(w)
	}
	wg.Wait()
	require.Equal(t, 1600, c.Len())
}
