package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"bulletin/internal/types"

	"github.com/redis/go-redis/v9"
)

// fakeRedis emulates SET NX and the release script against a map.
type fakeRedis struct {
	keys    map[string]string
	ttls    map[string]time.Duration
	setErr  error
	evalErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if _, held := f.keys[key]; held {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = value.(string)
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	if f.evalErr != nil {
		return redis.NewCmdResult(nil, f.evalErr)
	}
	if f.keys[keys[0]] == args[0].(string) {
		delete(f.keys, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestRedisLocker_AcquireAndRelease(t *testing.T) {
	f := newFakeRedis()
	l := NewRedisLocker(f, "bulletin:lock:")
	ctx := context.Background()

	release, err := l.Acquire(ctx, "nl-1", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if f.ttls["bulletin:lock:nl-1"] != time.Minute {
		t.Errorf("ttl not applied: %v", f.ttls)
	}

	if _, err := l.Acquire(ctx, "nl-1", time.Minute); !types.HasCode(err, types.ErrCodeConflictCampaignRunning) {
		t.Fatalf("second Acquire: expected conflict, got %v", err)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := l.Acquire(ctx, "nl-1", time.Minute); err != nil {
		t.Errorf("Acquire after release: %v", err)
	}
}

func TestRedisLocker_ReleaseAfterTakeover(t *testing.T) {
	f := newFakeRedis()
	l := NewRedisLocker(f, "")
	ctx := context.Background()

	release, err := l.Acquire(ctx, "nl-1", time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	// Simulate expiry followed by another holder.
	f.keys["nl-1"] = "someone-else"

	if err := release(ctx); !errors.Is(err, ErrNotHeld) {
		t.Errorf("expected ErrNotHeld, got %v", err)
	}
	if f.keys["nl-1"] != "someone-else" {
		t.Error("release removed another holder's lock")
	}
}

func TestRedisLocker_Errors(t *testing.T) {
	f := newFakeRedis()
	f.setErr = errors.New("connection refused")
	l := NewRedisLocker(f, "")

	if _, err := l.Acquire(context.Background(), "nl-1", time.Second); !types.HasCode(err, types.ErrCodeUpstreamUnavailable) {
		t.Errorf("expected upstream error, got %v", err)
	}

	f.setErr = nil
	release, err := l.Acquire(context.Background(), "nl-1", time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	f.evalErr = errors.New("timeout")
	if err := release(context.Background()); err == nil || errors.Is(err, ErrNotHeld) {
		t.Errorf("expected eval error, got %v", err)
	}
}

func TestNopLocker(t *testing.T) {
	var l Locker = NopLocker{}
	for i := 0; i < 2; i++ {
		release, err := l.Acquire(context.Background(), "nl-1", time.Second)
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		if err := release(context.Background()); err != nil {
			t.Fatalf("release: %v", err)
		}
	}
}
