package token

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeFetcher struct {
	calls int32
	mu    sync.Mutex
}

func (f *fakeFetcher) FetchToken(ctx context.Context, corpID, secret string) (string, time.Duration, error) {
	atomic.AddInt32(&f.calls, 1)
	time.Sleep(10 * time.Millisecond)
	return "tok-" + corpID, time.Hour, nil
}

func TestGetSingleFlightsConcurrentRefresh(t *testing.T) {
	fetcher := &fakeFetcher{}
	cache := New(fetcher)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := cache.Get(context.Background(), "corp1", "app1", "secret")
			if err != nil {
				t.Errorf("get: %v", err)
			}
			if tok != "tok-corp1" {
				t.Errorf("unexpected token: %s", tok)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&fetcher.calls); got != 1 {
		t.Fatalf("expected exactly 1 fetch call, got %d", got)
	}
}

func TestGetRefreshesNearExpiry(t *testing.T) {
	fetcher := &fakeFetcher{}
	cache := New(fetcher)
	cache.refreshBefore = time.Hour // force every Get to treat cache as stale

	if _, err := cache.Get(context.Background(), "corp1", "app1", "secret"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := cache.Get(context.Background(), "corp1", "app1", "secret"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := atomic.LoadInt32(&fetcher.calls); got != 2 {
		t.Fatalf("expected 2 fetch calls given refreshBefore=1h, got %d", got)
	}
}

func TestInvalidateForcesRefresh(t *testing.T) {
	fetcher := &fakeFetcher{}
	cache := New(fetcher)

	if _, err := cache.Get(context.Background(), "corp1", "app1", "secret"); err != nil {
		t.Fatalf("get: %v", err)
	}
	cache.Invalidate("corp1", "app1")
	if _, err := cache.Get(context.Background(), "corp1", "app1", "secret"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := atomic.LoadInt32(&fetcher.calls); got != 2 {
		t.Fatalf("expected 2 fetch calls after invalidate, got %d", got)
	}
}
