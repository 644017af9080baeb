package tracking

import (
	"context"
	"fmt"

	"bulletin/internal/types"

	"golang.org/x/sync/errgroup"
)

// DefaultCreateConcurrency bounds concurrent record creation.
const DefaultCreateConcurrency = 10

// Tracker wraps a Store with logging. Write failures are logged and reported
// as false rather than returned, so one recipient's tracking problem never
// aborts the campaign.
type Tracker struct {
	store  Store
	logger types.Logger
}

// NewTracker creates a Tracker over store.
func NewTracker(store Store, logger types.Logger) *Tracker {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Tracker{store: store, logger: logger}
}

// Create writes the pending record for one recipient.
func (t *Tracker) Create(ctx context.Context, nl types.Newsletter, r types.Recipient, email string) bool {
	rec := &types.TrackingRecord{
		ID:              RecordID(nl.ID, email),
		NewsletterID:    nl.ID,
		NewsletterTitle: nl.Title,
		RecipientEmail:  email,
		RecipientName:   r.Name,
		RecipientUserID: r.UserID,
		Subject:         nl.EmailSubject(),
		Status:          types.TrackingPending,
	}

	created, err := t.store.CreateDeliveryRecord(ctx, rec)
	if err != nil {
		t.logger.Error("failed to create delivery record",
			"newsletter_id", nl.ID,
			"record_id", rec.ID,
			"error", err,
		)
		return false
	}
	if !created {
		t.logger.Info("delivery record already exists", "newsletter_id", nl.ID, "record_id", rec.ID)
	}
	return true
}

// CreateAll writes pending records for every recipient with at most limit
// concurrent writes and returns how many succeeded. normalize maps a raw
// address to its tracking key.
func (t *Tracker) CreateAll(ctx context.Context, nl types.Newsletter, recipients []types.Recipient, limit int, normalize func(string) string) int {
	if limit <= 0 {
		limit = DefaultCreateConcurrency
	}

	results := make([]bool, len(recipients))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, r := range recipients {
		g.Go(func() error {
			results[i] = t.Create(ctx, nl, r, normalize(r.Email))
			return nil
		})
	}
	_ = g.Wait()

	ok := 0
	for _, created := range results {
		if created {
			ok++
		}
	}
	if ok < len(recipients) {
		t.logger.Warn("some delivery records were not created",
			"newsletter_id", nl.ID,
			"created", ok,
			"recipients", len(recipients),
		)
	}
	return ok
}

// Record persists the outcome of a resolved delivery item. Items that are
// not terminal are ignored.
func (t *Tracker) Record(ctx context.Context, item types.DeliveryItem) bool {
	var err error
	switch item.Status {
	case types.DeliverySent:
		err = t.store.MarkAsSent(ctx, item.NewsletterID, item.RecipientEmail, item.ProviderMessageID, item.Attempts)
	case types.DeliveryFailed:
		err = t.store.MarkAsFailed(ctx, item.NewsletterID, item.RecipientEmail, item.LastError, item.Attempts)
	case types.DeliveryBounced:
		err = t.store.MarkAsBounced(ctx, item.NewsletterID, item.RecipientEmail, item.LastError, item.Attempts)
	default:
		return false
	}

	if err != nil {
		t.logger.Error("failed to update delivery record",
			"newsletter_id", item.NewsletterID,
			"record_id", RecordID(item.NewsletterID, item.RecipientEmail),
			"status", string(item.Status),
			"error", err,
		)
		return false
	}
	return true
}

// Summary returns the campaign aggregate for a newsletter.
func (t *Tracker) Summary(ctx context.Context, newsletterID string) (*types.CampaignSummary, error) {
	s, err := t.store.GetCampaignSummary(ctx, newsletterID)
	if err != nil {
		return nil, fmt.Errorf("campaign summary: %w", err)
	}
	return s, nil
}

// List returns the tracking records of a newsletter, optionally filtered by
// status.
func (t *Tracker) List(ctx context.Context, newsletterID string, status types.TrackingStatus) ([]types.TrackingRecord, error) {
	if status != "" && !status.IsValid() {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidStatus, fmt.Sprintf("unknown status %q", status), nil)
	}
	recs, err := t.store.ListRecords(ctx, newsletterID, status)
	if err != nil {
		return nil, fmt.Errorf("list delivery records: %w", err)
	}
	return recs, nil
}
