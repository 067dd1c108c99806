package exchange

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"polyarb/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeFetcher counts fetch rounds by GetTickSize calls; the other two fields
// ride along in the same round.
type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	err   error
}

func (f *fakeFetcher) rounds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFetcher) GetTickSize(ctx context.Context, tokenID string) (types.TickSize, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return "", f.err
	}
	return types.Tick001, nil
}

func (f *fakeFetcher) GetNegRisk(ctx context.Context, tokenID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return false, nil
}

func (f *fakeFetcher) GetFeeRateBps(ctx context.Context, tokenID string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return 20, nil
}

func TestParamsCacheGetCaches(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	pc := NewParamsCache(fetcher, time.Minute, nil, testLogger())

	first, err := pc.Get(context.Background(), "tok1", false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first.TickSize != types.Tick001 || first.FeeRateBps != 20 {
		t.Errorf("params = %+v, want tick 0.01 fee 20", first)
	}

	second, err := pc.Get(context.Background(), "tok1", false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if second != first {
		t.Error("second Get returned a different entry")
	}
	if fetcher.rounds() != 1 {
		t.Errorf("fetch rounds = %d, want 1", fetcher.rounds())
	}
}

func TestParamsCacheStalenessRefetches(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	clock := types.NewSimClock()
	clock.Set(time.Unix(1_700_000_000, 0))
	pc := NewParamsCache(fetcher, time.Minute, clock, testLogger())

	if _, err := pc.Get(context.Background(), "tok1", false); err != nil {
		t.Fatalf("Get: %v", err)
	}

	// Exactly at the TTL the entry is still fresh; one second past it is not.
	clock.Advance(time.Minute)
	if _, err := pc.Get(context.Background(), "tok1", false); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fetcher.rounds() != 1 {
		t.Errorf("fetch rounds at TTL = %d, want 1", fetcher.rounds())
	}

	clock.Advance(time.Second)
	if _, err := pc.Get(context.Background(), "tok1", false); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fetcher.rounds() != 2 {
		t.Errorf("fetch rounds past TTL = %d, want 2", fetcher.rounds())
	}
}

func TestParamsCacheForceRefresh(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	pc := NewParamsCache(fetcher, time.Hour, nil, testLogger())

	if _, err := pc.Get(context.Background(), "tok1", false); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := pc.Get(context.Background(), "tok1", true); err != nil {
		t.Fatalf("Get force: %v", err)
	}
	if fetcher.rounds() != 2 {
		t.Errorf("fetch rounds = %d, want 2 with force", fetcher.rounds())
	}
}

func TestParamsCacheSerializesConcurrentMisses(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{delay: 50 * time.Millisecond}
	pc := NewParamsCache(fetcher, time.Hour, nil, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := pc.Get(context.Background(), "tok1", false); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	wg.Wait()

	if fetcher.rounds() != 1 {
		t.Errorf("fetch rounds = %d, want 1 (misses serialized by token lock)", fetcher.rounds())
	}
}

func TestParamsCacheFetchErrorPropagates(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{err: errors.New("venue down")}
	pc := NewParamsCache(fetcher, time.Minute, nil, testLogger())

	if _, err := pc.Get(context.Background(), "tok1", false); err == nil {
		t.Error("expected fetch error")
	}
	if pc.Len() != 0 {
		t.Errorf("cache len = %d, want 0 after failed fetch", pc.Len())
	}
}

func TestParamsCacheWarm(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	pc := NewParamsCache(fetcher, time.Minute, nil, testLogger())

	pc.Warm(context.Background(), []string{"tok1", "tok2", "tok3"})
	if pc.Len() != 3 {
		t.Errorf("cache len = %d, want 3", pc.Len())
	}
	if fetcher.rounds() != 3 {
		t.Errorf("fetch rounds = %d, want 3", fetcher.rounds())
	}
}

func TestParamsCacheInvalidate(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	pc := NewParamsCache(fetcher, time.Hour, nil, testLogger())

	if _, err := pc.Get(context.Background(), "tok1", false); err != nil {
		t.Fatalf("Get: %v", err)
	}
	pc.Invalidate("tok1")
	if _, err := pc.Get(context.Background(), "tok1", false); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fetcher.rounds() != 2 {
		t.Errorf("fetch rounds = %d, want 2 after invalidate", fetcher.rounds())
	}
}
