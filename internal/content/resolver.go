package content

import (
	"context"
	"time"

	"bulletin/internal/resilience"
	"bulletin/internal/types"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is how long a resolved body stays cached.
const DefaultCacheTTL = 15 * time.Minute

// Resolver fills in Newsletter.Body from object storage when the newsletter
// references a BodyKey. Concurrent lookups for one key share a single fetch.
type Resolver struct {
	fetcher Fetcher
	cache   Cache
	ttl     time.Duration
	breaker *resilience.Breaker[[]byte]
	group   singleflight.Group
	logger  types.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCache sets the body cache. Without one every lookup hits storage.
func WithCache(c Cache, ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.cache = c
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithBreakerSettings overrides the storage breaker configuration.
func WithBreakerSettings(s resilience.BreakerSettings) ResolverOption {
	return func(r *Resolver) {
		s.IsFailure = isStorageFailure
		r.breaker = resilience.NewBreaker[[]byte](s)
	}
}

// NewResolver creates a Resolver over fetcher.
func NewResolver(fetcher Fetcher, logger types.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = types.NopLogger{}
	}
	r := &Resolver{fetcher: fetcher, ttl: DefaultCacheTTL, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	if r.breaker == nil {
		s := resilience.DefaultBreakerSettings("content-store")
		s.IsFailure = isStorageFailure
		r.breaker = resilience.NewBreaker[[]byte](s)
	}
	return r
}

// Breaker exposes the storage breaker for health reporting.
func (r *Resolver) Breaker() *resilience.Breaker[[]byte] { return r.breaker }

// Resolve returns nl with Body populated. Newsletters with inline bodies or no
// BodyKey are returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, nl *types.Newsletter) (*types.Newsletter, error) {
	if nl == nil || nl.BodyKey == "" || nl.Body != "" {
		return nl, nil
	}

	body, err := r.Body(ctx, nl.BodyKey)
	if err != nil {
		return nil, err
	}
	out := *nl
	out.Body = string(body)
	return &out, nil
}

// Body returns the decoded body stored under key.
func (r *Resolver) Body(ctx context.Context, key string) ([]byte, error) {
	if r.cache != nil {
		body, ok, err := r.cache.Get(ctx, key)
		if err != nil {
			r.logger.Warn("body cache read failed", "key", key, "error", err)
		} else if ok {
			return body, nil
		}
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.breaker.Execute(func() ([]byte, error) {
			return r.fetcher.Fetch(ctx, key)
		})
	})
	if err != nil {
		return nil, err
	}
	body := v.([]byte)

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, body, r.ttl); err != nil {
			r.logger.Warn("body cache write failed", "key", key, "error", err)
		}
	}
	return body, nil
}

// isStorageFailure keeps missing objects from tripping the breaker.
func isStorageFailure(err error) bool {
	return !types.HasCode(err, types.ErrCodeNotFoundObject)
}
