package delivery

import (
	"context"
	"errors"
	"time"

	"bulletin/internal/resilience"
	"bulletin/internal/types"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"
)

// Options controls a single dispatch. Use DefaultOptions and override fields;
// zero BatchSize, MaxRetries and AttemptTimeout fall back to the defaults,
// while zero delays mean no wait.
type Options struct {
	BatchSize           int
	DelayBetweenBatches time.Duration
	MaxRetries          int
	RetryDelay          time.Duration
	AttemptTimeout      time.Duration
	Jitter              bool
	Observer            Observer
}

// DefaultOptions returns batches of 5, 1s between batches, 3 attempts with a
// 1s base backoff and a 10s per-attempt timeout.
func DefaultOptions() Options {
	return Options{
		BatchSize:           5,
		DelayBetweenBatches: time.Second,
		MaxRetries:          3,
		RetryDelay:          time.Second,
		AttemptTimeout:      10 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = def.BatchSize
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = def.MaxRetries
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = def.AttemptTimeout
	}
	if o.DelayBetweenBatches < 0 {
		o.DelayBetweenBatches = 0
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	return o
}

// Dispatcher sends one email per recipient through an EmailProvider.
type Dispatcher struct {
	provider types.EmailProvider
	from     types.SenderIdentity
	logger   types.Logger
	sleep    resilience.SleepFunc
	validate *validator.Validate
}

// DispatcherOption is a functional option for configuring a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithSleepFunc overrides the wait used for retry backoff and the pause
// between batches. This is intended for testing to avoid real delays.
func WithSleepFunc(fn resilience.SleepFunc) DispatcherOption {
	return func(d *Dispatcher) {
		d.sleep = fn
	}
}

// NewDispatcher creates a Dispatcher that sends as from.
func NewDispatcher(provider types.EmailProvider, from types.SenderIdentity, logger types.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = types.NopLogger{}
	}
	d := &Dispatcher{
		provider: provider,
		from:     from,
		logger:   logger,
		sleep:    resilience.Sleep,
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send delivers nl to every recipient and returns the final stats. Recipients
// are split into ceil(R/BatchSize) consecutive waves; each wave runs with at
// most BatchSize concurrent sends and is fully awaited before the next one
// starts. Send never aborts early: on cancellation the remaining items end
// as failed so every recipient is accounted for.
func (d *Dispatcher) Send(ctx context.Context, recipients []types.Recipient, nl types.Newsletter, opts Options) Stats {
	opts = opts.withDefaults()
	items := d.buildItems(nl, recipients, opts.MaxRetries)
	t := newTally(len(items), opts.Observer, d.logger)

	batches := (len(items) + opts.BatchSize - 1) / opts.BatchSize
	log := d.logger.With("newsletter_id", nl.ID)
	log.Info("dispatch started", "recipients", len(items), "batches", batches, "batch_size", opts.BatchSize)

	for b := 0; b < batches; b++ {
		start := b * opts.BatchSize
		end := min(start+opts.BatchSize, len(items))

		var g errgroup.Group
		g.SetLimit(opts.BatchSize)
		for _, it := range items[start:end] {
			g.Go(func() error {
				d.deliver(ctx, nl, it, opts, t)
				return nil
			})
		}
		_ = g.Wait()
		t.batchDone()

		if b < batches-1 && opts.DelayBetweenBatches > 0 {
			if err := d.sleep(ctx, opts.DelayBetweenBatches); err != nil {
				log.Warn("inter-batch delay interrupted", "batch", b+1, "error", err)
			}
		}
	}

	stats := t.complete(items)
	log.Info("dispatch completed",
		"sent", stats.Sent,
		"failed", stats.Failed,
		"bounced", stats.Bounced,
		"total", stats.Total,
	)
	return stats
}

// buildItems normalizes addresses and collapses duplicates, keeping the
// first occurrence.
func (d *Dispatcher) buildItems(nl types.Newsletter, recipients []types.Recipient, maxRetries int) []*Item {
	items := make([]*Item, 0, len(recipients))
	seen := make(map[string]struct{}, len(recipients))
	for _, r := range recipients {
		it := NewItem(nl, r, maxRetries)
		if _, dup := seen[it.Email()]; dup {
			continue
		}
		seen[it.Email()] = struct{}{}
		items = append(items, it)
	}
	return items
}

func (d *Dispatcher) deliver(ctx context.Context, nl types.Newsletter, it *Item, opts Options, t *tally) {
	log := d.logger.With("newsletter_id", nl.ID, "recipient", RedactEmail(it.Email()))

	if err := d.validate.Var(it.Email(), "required,email"); err != nil {
		cause := types.NewAppError(types.ErrCodeEmailInvalidRecipient, "invalid email address", err)
		_ = it.MarkBounced(cause)
		t.resolve(it.Snapshot(), cause)
		return
	}

	input := types.SendInput{
		To:          it.Email(),
		ToName:      it.Snapshot().RecipientName,
		From:        d.from,
		Subject:     it.Snapshot().Subject,
		BodyHTML:    nl.Body,
		BodyText:    nl.BodyText,
		ReferenceID: nl.ID,
		Tags:        map[string]string{"newsletter_id": nl.ID},
	}

	policy := resilience.RetryPolicy{
		MaxRetries: opts.MaxRetries,
		BaseDelay:  opts.RetryDelay,
		Jitter:     opts.Jitter,
		Retryable: func(err error) bool {
			return ctx.Err() == nil && !resilience.IsOpen(err) && IsRetryable(err)
		},
	}

	_, err := resilience.Retry(ctx, policy, func(ctx context.Context, attempt int) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := it.Begin(); err != nil {
			return "", err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, opts.AttemptTimeout)
		defer cancel()

		msgID, err := d.provider.Send(attemptCtx, input)
		if err != nil {
			if IsBounce(err) {
				_ = it.MarkBounced(err)
			} else {
				_ = it.MarkRetryable(err)
			}
			return "", err
		}
		_ = it.MarkSent(msgID)
		return msgID, nil
	},
		resilience.WithSleepFunc(d.sleep),
		resilience.WithOnRetry(func(attempt int, err error, wait time.Duration) {
			log.Warn("send failed, retrying", "attempt", attempt+1, "wait", wait.String(), "error", err)
		}),
	)

	if err != nil && !it.IsTerminal() {
		// Cancelled or interrupted with attempts remaining.
		_ = it.MarkFailed(err)
	}

	switch it.Status() {
	case types.DeliveryBounced:
		log.Warn("recipient bounced", "attempts", it.Attempts(), "error", err)
	case types.DeliveryFailed:
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Warn("send abandoned", "attempts", it.Attempts(), "error", err)
		} else {
			log.Error("send failed permanently", "attempts", it.Attempts(), "error", err)
		}
	}

	t.resolve(it.Snapshot(), err)
}
