package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// counter returns a CreateFunc producing "v1", "v2", ... with the given ttl.
func counter(calls *atomic.Int32, ttl time.Duration) CreateFunc[string] {
	return func(context.Context) (*Entry[string], error) {
		n := calls.Add(1)
		return &Entry[string]{TTL: ttl, Value: "v" + string(rune('0'+n))}, nil
	}
}

func newTestCache(clock Clock) *Cache[string] {
	return New[string](Config{Capacity: 10, DefaultTTL: time.Minute, MaxStale: time.Hour}, clock, zap.NewNop())
}

func TestGet_FreshHitCallsCreateOnce(t *testing.T) {
	t.Parallel()

	c := newTestCache(newFakeClock())
	var calls atomic.Int32
	create := counter(&calls, 0)

	for i := 0; i < 3; i++ {
		v, err := c.Get(context.Background(), "k", create)
		require.NoError(t, err)
		require.Equal(t, "v1", v)
	}
	require.EqualValues(t, 1, calls.Load())
	require.Equal(t, 1, c.Len())
}

func TestGet_StaleServesOldValueAndRevalidatesOnce(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := newTestCache(clock)
	var calls atomic.Int32
	release := make(chan struct{})
	create := func(context.Context) (*Entry[string], error) {
		n := calls.Add(1)
		if n > 1 {
			<-release
		}
		return &Entry[string]{Value: "v" + string(rune('0'+n))}, nil
	}

	v, err := c.Get(context.Background(), "k", create)
	require.NoError(t, err)
	require.Equal(t, "v1", v)

	clock.Advance(2 * time.Minute)
	for i := 0; i < 5; i++ {
		v, err = c.Get(context.Background(), "k", create)
		require.NoError(t, err)
		require.Equal(t, "v1", v)
	}

	close(release)
	c.Wait()
	require.EqualValues(t, 2, calls.Load())

	v, err = c.Get(context.Background(), "k", create)
	require.NoError(t, err)
	require.Equal(t, "v2", v)
	require.EqualValues(t, 2, calls.Load())
}

func TestGet_DeadBlocksForFreshValue(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := newTestCache(clock)
	var calls atomic.Int32
	create := counter(&calls, 0)

	_, err := c.Get(context.Background(), "k", create)
	require.NoError(t, err)

	clock.Advance(time.Minute + time.Hour)
	v, err := c.Get(context.Background(), "k", create)
	require.NoError(t, err)
	require.Equal(t, "v2", v)
	require.EqualValues(t, 2, calls.Load())

	v, err = c.Get(context.Background(), "k", create)
	require.NoError(t, err)
	require.Equal(t, "v2", v)
	require.EqualValues(t, 2, calls.Load())
}

func TestGet_EntryTTLOverridesDefault(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := newTestCache(clock)
	var calls atomic.Int32
	create := counter(&calls, 10*time.Second)

	_, err := c.Get(context.Background(), "k", create)
	require.NoError(t, err)

	clock.Advance(20 * time.Second)
	v, err := c.Get(context.Background(), "k", create)
	require.NoError(t, err)
	require.Equal(t, "v1", v)
	c.Wait()
	require.EqualValues(t, 2, calls.Load())
}

func TestGet_ErrorsAreNotCached(t *testing.T) {
	t.Parallel()

	c := newTestCache(newFakeClock())
	boom := errors.New("boom")
	fail := true
	create := func(context.Context) (*Entry[string], error) {
		if fail {
			return nil, boom
		}
		return &Entry[string]{Value: "ok"}, nil
	}

	_, err := c.Get(context.Background(), "k", create)
	require.ErrorIs(t, err, boom)
	require.Zero(t, c.Len())

	fail = false
	v, err := c.Get(context.Background(), "k", create)
	require.NoError(t, err)
	require.Equal(t, "ok", v)
}

func TestGet_NilEntryFailsLoudly(t *testing.T) {
	t.Parallel()

	c := newTestCache(newFakeClock())
	_, err := c.Get(context.Background(), "k", func(context.Context) (*Entry[string], error) {
		return nil, nil
	})
	require.ErrorIs(t, err, ErrNoValue)
	require.Zero(t, c.Len())
}

func TestGet_PanickingCreateIsAnError(t *testing.T) {
	t.Parallel()

	c := newTestCache(newFakeClock())
	_, err := c.Get(context.Background(), "k", func(context.Context) (*Entry[string], error) {
		panic("bad create")
	})
	require.ErrorContains(t, err, "bad create")
}

func TestGet_FailedRevalidationKeepsStaleValue(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := newTestCache(clock)
	var calls atomic.Int32
	create := func(context.Context) (*Entry[string], error) {
		if calls.Add(1) > 1 {
			return nil, errors.New("origin down")
		}
		return &Entry[string]{Value: "v1"}, nil
	}

	_, err := c.Get(context.Background(), "k", create)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	v, err := c.Get(context.Background(), "k", create)
	require.NoError(t, err)
	require.Equal(t, "v1", v)
	c.Wait()

	v, err = c.Get(context.Background(), "k", create)
	require.NoError(t, err)
	require.Equal(t, "v1", v)
	c.Wait()
	require.EqualValues(t, 3, calls.Load())
}

func TestGet_ConcurrentMissSharesOneCreate(t *testing.T) {
	t.Parallel()

	c := newTestCache(newFakeClock())
	var calls atomic.Int32
	release := make(chan struct{})
	create := func(context.Context) (*Entry[string], error) {
		calls.Add(1)
		<-release
		return &Entry[string]{Value: "shared"}, nil
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make([]string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Get(context.Background(), "k", create)
			if err == nil {
				results[i] = v
			}
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, calls.Load())
	for _, v := range results {
		require.Equal(t, "shared", v)
	}
}

func TestGet_WaiterContextCanceled(t *testing.T) {
	t.Parallel()

	c := newTestCache(newFakeClock())
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Get(ctx, "k", func(context.Context) (*Entry[string], error) {
		<-release
		return &Entry[string]{Value: "late"}, nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	c := New[string](Config{Capacity: 2, DefaultTTL: time.Minute}, newFakeClock(), zap.NewNop())
	var calls atomic.Int32
	create := counter(&calls, 0)

	for _, key := range []string{"a", "b", "a", "c"} {
		_, err := c.Get(context.Background(), key, create)
		require.NoError(t, err)
	}
	require.Equal(t, 2, c.Len())
	require.EqualValues(t, 3, calls.Load())

	// "b" was least recently used when "c" arrived.
	_, err := c.Get(context.Background(), "a", create)
	require.NoError(t, err)
	require.EqualValues(t, 3, calls.Load())
	_, err = c.Get(context.Background(), "b", create)
	require.NoError(t, err)
	require.EqualValues(t, 4, calls.Load())
}

func TestDeleteAndClear(t *testing.T) {
	t.Parallel()

	c := newTestCache(newFakeClock())
	var calls atomic.Int32
	create := counter(&calls, 0)

	for _, key := range []string{"a", "b", "c"} {
		_, err := c.Get(context.Background(), key, create)
		require.NoError(t, err)
	}
	require.True(t, c.Delete("a"))
	require.False(t, c.Delete("a"))
	require.Equal(t, 2, c.Len())

	c.Clear()
	require.Zero(t, c.Len())

	_, err := c.Get(context.Background(), "b", create)
	require.NoError(t, err)
	require.EqualValues(t, 4, calls.Load())
	require.Equal(t, 1, c.Len())
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	c := New[int](Config{Capacity: -1}, nil, nil)
	require.Equal(t, defaultTTL, c.cfg.DefaultTTL)
	require.Equal(t, defaultMaxStale, c.cfg.MaxStale)
	require.Zero(t, c.cfg.Capacity)

	v, err := c.Get(context.Background(), "k", func(context.Context) (*Entry[int], error) {
		return &Entry[int]{Value: 7}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 7, v)
}
