// Package campaign runs a newsletter campaign end to end: publish the issue,
// resolve recipients, create tracking records, dispatch, and reconcile.
package campaign

import (
	"context"
	"fmt"
	"time"

	"bulletin/internal/delivery"
	"bulletin/internal/lock"
	"bulletin/internal/resilience"
	"bulletin/internal/tracking"
	"bulletin/internal/types"

	"golang.org/x/sync/errgroup"
)

// DefaultLockTTL bounds how long a crashed run can block the next one.
const DefaultLockTTL = 15 * time.Minute

// ContentStore is the newsletter and subscriber source.
type ContentStore interface {
	GetNewsletter(ctx context.Context, id string) (*types.Newsletter, error)
	PublishNewsletter(ctx context.Context, id string) (*types.Newsletter, error)
	ListActiveSubscribers(ctx context.Context) ([]types.Subscriber, error)
}

// BounceSuppressor is implemented by content stores that can stop mailing a
// subscriber whose address bounced.
type BounceSuppressor interface {
	MarkBounced(ctx context.Context, email string) error
}

// BodyResolver fills in bodies kept outside the content store.
type BodyResolver interface {
	Resolve(ctx context.Context, nl *types.Newsletter) (*types.Newsletter, error)
}

// Sender dispatches one newsletter to a recipient list.
type Sender interface {
	Send(ctx context.Context, recipients []types.Recipient, nl types.Newsletter, opts delivery.Options) delivery.Stats
}

// Deps holds the collaborators of an Orchestrator. Content, Tracker and
// Sender are required.
type Deps struct {
	Content  ContentStore
	Tracker  *tracking.Tracker
	Sender   Sender
	Bodies   BodyResolver
	Locker   lock.Locker
	Metrics  Metrics
	Clock    types.Clock
	Logger   types.Logger
	Breaker  resilience.BreakerSettings
	Dispatch delivery.Options

	// CreateConcurrency bounds concurrent tracking record creation.
	CreateConcurrency int
	LockTTL           time.Duration
}

// Orchestrator runs campaigns. A single instance is safe for concurrent use;
// runs for the same newsletter are serialized by the Locker.
type Orchestrator struct {
	content    ContentStore
	suppressor BounceSuppressor
	tracker    *tracking.Tracker
	sender     Sender
	bodies     BodyResolver
	locker     lock.Locker
	metrics    Metrics
	clock      types.Clock
	logger     types.Logger
	breaker    *resilience.Breaker[struct{}]
	defaults   delivery.Options
	createN    int
	lockTTL    time.Duration
}

// NewOrchestrator creates an Orchestrator. Optional collaborators left nil
// fall back to no-op implementations.
func NewOrchestrator(d Deps) *Orchestrator {
	o := &Orchestrator{
		content:  d.Content,
		tracker:  d.Tracker,
		sender:   d.Sender,
		bodies:   d.Bodies,
		locker:   d.Locker,
		metrics:  d.Metrics,
		clock:    d.Clock,
		logger:   d.Logger,
		defaults: d.Dispatch,
		createN:  d.CreateConcurrency,
		lockTTL:  d.LockTTL,
	}
	if s, ok := d.Content.(BounceSuppressor); ok {
		o.suppressor = s
	}
	if o.locker == nil {
		o.locker = lock.NopLocker{}
	}
	if o.metrics == nil {
		o.metrics = NopMetrics{}
	}
	if o.clock == nil {
		o.clock = types.RealClock{}
	}
	if o.logger == nil {
		o.logger = types.NopLogger{}
	}
	if o.createN <= 0 {
		o.createN = tracking.DefaultCreateConcurrency
	}
	if o.lockTTL <= 0 {
		o.lockTTL = DefaultLockTTL
	}

	settings := d.Breaker
	if settings.Name == "" {
		settings.Name = "content-store"
	}
	settings.IsFailure = isContentFailure
	notify := settings.OnStateChange
	settings.OnStateChange = func(name string, from, to resilience.BreakerState) {
		o.logger.Warn("circuit breaker state changed", "dependency", name, "from", string(from), "to", string(to))
		if to == resilience.BreakerOpen {
			o.metrics.RecordBreakerOpen(context.Background(), name)
		}
		if notify != nil {
			notify(name, from, to)
		}
	}
	o.breaker = resilience.NewBreaker[struct{}](settings)
	return o
}

// Breaker exposes the content store breaker for health reporting.
func (o *Orchestrator) Breaker() *resilience.Breaker[struct{}] { return o.breaker }

// Run publishes newsletterID and delivers it to every active subscriber.
// Publish and subscriber lookup failures abort the run before any tracking
// record is written; per-recipient failures never do.
func (o *Orchestrator) Run(ctx context.Context, newsletterID string, overrides types.DispatchOverrides) (*types.CampaignResult, error) {
	start := o.clock.Now()
	log := o.logger.With("newsletter_id", newsletterID)

	release, err := o.locker.Acquire(ctx, "campaign:"+newsletterID, o.lockTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release campaign lock", "error", err)
		}
	}()

	nl, err := guard(o.breaker, func() (*types.Newsletter, error) {
		return o.content.PublishNewsletter(ctx, newsletterID)
	})
	if err != nil {
		o.fail(ctx, log, "publish", err)
		return nil, fmt.Errorf("publish newsletter: %w", err)
	}
	if o.bodies != nil {
		if nl, err = o.bodies.Resolve(ctx, nl); err != nil {
			o.fail(ctx, log, "resolve body", err)
			return nil, fmt.Errorf("resolve newsletter body: %w", err)
		}
	}

	subscribers, err := guard(o.breaker, func() ([]types.Subscriber, error) {
		return o.content.ListActiveSubscribers(ctx)
	})
	if err != nil {
		o.fail(ctx, log, "list subscribers", err)
		return nil, fmt.Errorf("list subscribers: %w", err)
	}

	result := &types.CampaignResult{
		NewsletterID:    nl.ID,
		Published:       true,
		SubscriberCount: len(subscribers),
	}
	if len(subscribers) == 0 {
		result.ProcessingTimeMs = o.clock.Now().Sub(start).Milliseconds()
		log.Info("campaign has no active subscribers")
		o.metrics.RecordCampaign(ctx, result, OutcomeEmpty)
		return result, nil
	}

	recipients := toRecipients(subscribers)
	created := o.tracker.CreateAll(ctx, *nl, recipients, o.createN, delivery.NormalizeEmail)

	// Outcomes are persisted even if the caller goes away mid-run.
	persistCtx := context.WithoutCancel(ctx)
	opts := o.dispatchOptions(overrides)
	opts.Observer = delivery.ObserverFuncs{
		Error: func(_ error, item types.DeliveryItem) {
			o.tracker.Record(persistCtx, item)
			if item.Status == types.DeliveryBounced {
				o.suppress(persistCtx, log, item.RecipientEmail)
			}
		},
	}

	stats := o.sender.Send(ctx, recipients, *nl, opts)
	o.reconcile(persistCtx, stats.Items)

	result.EmailsSent = stats.Sent
	result.EmailsFailed = stats.Failed
	result.EmailsBounced = stats.Bounced
	result.Stats = stats.DispatchStats
	result.ProcessingTimeMs = o.clock.Now().Sub(start).Milliseconds()

	log.Info("campaign completed",
		"subscribers", len(subscribers),
		"records_created", created,
		"sent", result.EmailsSent,
		"failed", result.EmailsFailed,
		"bounced", result.EmailsBounced,
		"duration_ms", result.ProcessingTimeMs,
	)
	o.metrics.RecordCampaign(persistCtx, result, OutcomeCompleted)
	return result, nil
}

// Newsletter returns a newsletter without publishing it.
func (o *Orchestrator) Newsletter(ctx context.Context, id string) (*types.Newsletter, error) {
	return guard(o.breaker, func() (*types.Newsletter, error) {
		return o.content.GetNewsletter(ctx, id)
	})
}

// Summary returns the delivery aggregate for a newsletter.
func (o *Orchestrator) Summary(ctx context.Context, newsletterID string) (*types.CampaignSummary, error) {
	return o.tracker.Summary(ctx, newsletterID)
}

// Deliveries lists the tracking records of a newsletter, optionally filtered
// by status.
func (o *Orchestrator) Deliveries(ctx context.Context, newsletterID string, status types.TrackingStatus) ([]types.TrackingRecord, error) {
	return o.tracker.List(ctx, newsletterID, status)
}

// reconcile marks every sent item in a second pass. Sent items are not
// reported through OnError, so this is the only place they are persisted.
func (o *Orchestrator) reconcile(ctx context.Context, items []types.DeliveryItem) {
	var g errgroup.Group
	g.SetLimit(o.createN)
	for _, item := range items {
		if item.Status != types.DeliverySent {
			continue
		}
		g.Go(func() error {
			o.tracker.Record(ctx, item)
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) suppress(ctx context.Context, log types.Logger, email string) {
	if o.suppressor == nil {
		return
	}
	if err := o.suppressor.MarkBounced(ctx, email); err != nil {
		log.Warn("failed to suppress bounced subscriber",
			"recipient", delivery.RedactEmail(email),
			"error", err,
		)
	}
}

func (o *Orchestrator) fail(ctx context.Context, log types.Logger, stage string, err error) {
	log.Error("campaign aborted", "stage", stage, "error", err)
	o.metrics.RecordCampaign(context.WithoutCancel(ctx), nil, OutcomeFailed)
}

// dispatchOptions applies non-zero overrides on top of the defaults.
func (o *Orchestrator) dispatchOptions(ov types.DispatchOverrides) delivery.Options {
	opts := o.defaults
	if ov.BatchSize > 0 {
		opts.BatchSize = ov.BatchSize
	}
	if ov.DelayBetweenBatchesMs > 0 {
		opts.DelayBetweenBatches = ov.DelayBetweenBatches()
	}
	if ov.MaxRetries > 0 {
		opts.MaxRetries = ov.MaxRetries
	}
	if ov.RetryDelayMs > 0 {
		opts.RetryDelay = ov.RetryDelay()
	}
	return opts
}

func toRecipients(subs []types.Subscriber) []types.Recipient {
	out := make([]types.Recipient, len(subs))
	for i, s := range subs {
		out[i] = types.Recipient{Email: s.Email, Name: s.Name, UserID: s.UserID}
	}
	return out
}

// guard runs fn through a breaker whose result type is erased.
func guard[T any](b *resilience.Breaker[struct{}], fn func() (T, error)) (T, error) {
	var out T
	_, err := b.Execute(func() (struct{}, error) {
		v, err := fn()
		out = v
		return struct{}{}, err
	})
	return out, err
}

// isContentFailure keeps lookups of unknown IDs from tripping the breaker.
func isContentFailure(err error) bool {
	return !types.HasCode(err, types.ErrCodeNotFoundNewsletter)
}
