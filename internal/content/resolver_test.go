package content

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bulletin/internal/resilience"
	"bulletin/internal/types"
)

type countingFetcher struct {
	calls atomic.Int32
	body  []byte
	err   error
	gate  chan struct{}
}

func (f *countingFetcher) Fetch(context.Context, string) ([]byte, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	return f.body, f.err
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("cache down")
}

func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache down")
}

func TestResolver_InlineBodyUnchanged(t *testing.T) {
	f := &countingFetcher{}
	r := NewResolver(f, nil)
	nl := &types.Newsletter{ID: "nl-1", Body: "<p>inline</p>", BodyKey: "ignored"}

	got, err := r.Resolve(context.Background(), nl)
	if err != nil || got != nl {
		t.Fatalf("expected identical newsletter, got %v %v", got, err)
	}
	if f.calls.Load() != 0 {
		t.Error("inline body must not hit storage")
	}
}

func TestResolver_FetchesAndCaches(t *testing.T) {
	f := &countingFetcher{body: []byte("<p>stored</p>")}
	r := NewResolver(f, nil, WithCache(NewMemoryCache(), time.Minute))
	nl := &types.Newsletter{ID: "nl-1", BodyKey: "issues/1.html"}

	for i := 0; i < 3; i++ {
		got, err := r.Resolve(context.Background(), nl)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Body != "<p>stored</p>" {
			t.Errorf("Body = %q", got.Body)
		}
	}
	if nl.Body != "" {
		t.Error("Resolve must not mutate its input")
	}
	if n := f.calls.Load(); n != 1 {
		t.Errorf("expected 1 fetch, got %d", n)
	}
}

func TestResolver_ConcurrentLookupsShareFetch(t *testing.T) {
	f := &countingFetcher{body: []byte("x"), gate: make(chan struct{})}
	r := NewResolver(f, nil, WithCache(NewMemoryCache(), time.Minute))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Body(context.Background(), "k"); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	if n := f.calls.Load(); n != 1 {
		t.Errorf("expected 1 shared fetch, got %d", n)
	}
}

func TestResolver_CacheErrorsFallBackToStorage(t *testing.T) {
	f := &countingFetcher{body: []byte("x")}
	r := NewResolver(f, nil, WithCache(failingCache{}, 0))

	got, err := r.Body(context.Background(), "k")
	if err != nil || string(got) != "x" {
		t.Fatalf("got %q %v", got, err)
	}
}

func TestResolver_BreakerOpensOnStorageFailures(t *testing.T) {
	f := &countingFetcher{err: types.NewAppError(types.ErrCodeUpstreamStorage, "down", nil)}
	r := NewResolver(f, nil, WithBreakerSettings(resilience.BreakerSettings{
		Name: "content-store", Threshold: 2, Timeout: time.Minute,
	}))

	for i := 0; i < 2; i++ {
		if _, err := r.Body(context.Background(), "k"); err == nil {
			t.Fatal("expected error")
		}
	}
	_, err := r.Body(context.Background(), "k")
	if !resilience.IsOpen(err) {
		t.Fatalf("expected breaker open, got %v", err)
	}
	if n := f.calls.Load(); n != 2 {
		t.Errorf("open breaker reached storage: %d calls", n)
	}
}

func TestResolver_MissingObjectDoesNotTrip(t *testing.T) {
	f := &countingFetcher{err: types.NewAppError(types.ErrCodeNotFoundObject, "missing", nil)}
	r := NewResolver(f, nil, WithBreakerSettings(resilience.BreakerSettings{Threshold: 1, Timeout: time.Minute}))

	for i := 0; i < 3; i++ {
		if _, err := r.Body(context.Background(), "k"); !types.HasCode(err, types.ErrCodeNotFoundObject) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
	if r.Breaker().State() != resilience.BreakerClosed {
		t.Error("missing objects tripped the breaker")
	}
}
