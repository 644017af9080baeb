package external

import (
	"context"
	"errors"

	"bulletin/internal/delivery"
	"bulletin/internal/resilience"
	"bulletin/internal/types"
)

// GuardedProvider routes sends through a shared circuit breaker. Bounces and
// caller cancellations are not dependency failures and do not count toward
// tripping it.
type GuardedProvider struct {
	inner   types.EmailProvider
	breaker *resilience.Breaker[string]
}

var _ types.EmailProvider = (*GuardedProvider)(nil)

// NewGuardedProvider wraps inner with a breaker built from settings.
func NewGuardedProvider(inner types.EmailProvider, settings resilience.BreakerSettings) *GuardedProvider {
	if settings.Name == "" {
		settings.Name = inner.Name()
	}
	settings.IsFailure = isTransportFailure
	return &GuardedProvider{
		inner:   inner,
		breaker: resilience.NewBreaker[string](settings),
	}
}

func (g *GuardedProvider) Name() string { return g.inner.Name() }

// Breaker exposes the breaker for health reporting.
func (g *GuardedProvider) Breaker() *resilience.Breaker[string] { return g.breaker }

func (g *GuardedProvider) Send(ctx context.Context, input types.SendInput) (string, error) {
	return g.breaker.Execute(func() (string, error) {
		return g.inner.Send(ctx, input)
	})
}

func isTransportFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return !delivery.IsBounce(err)
}
