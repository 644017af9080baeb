package db

import (
	"context"
	"fmt"

	"bulletin/internal/tracking"
	"bulletin/internal/types"

	"github.com/jackc/pgx/v5"
)

var _ tracking.Store = (*TrackingRepository)(nil)

// TrackingRepository stores delivery tracking records in delivery_tracking.
type TrackingRepository struct {
	db DBTX
}

// NewTrackingRepository creates a TrackingRepository backed by db.
func NewTrackingRepository(db DBTX) *TrackingRepository {
	return &TrackingRepository{db: db}
}

// CreateDeliveryRecord upserts a pending record. On conflict only the
// descriptive columns are refreshed, so an existing status is never reset.
// xmax = 0 identifies a freshly inserted row.
func (r *TrackingRepository) CreateDeliveryRecord(ctx context.Context, rec *types.TrackingRecord) (bool, error) {
	id := rec.ID
	if id == "" {
		id = tracking.RecordID(rec.NewsletterID, rec.RecipientEmail)
	}

	var created bool
	err := r.db.QueryRow(ctx,
		`INSERT INTO delivery_tracking
		 (id, newsletter_id, newsletter_title, recipient_email, recipient_name,
		  recipient_user_id, subject, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
		 ON CONFLICT (newsletter_id, recipient_email) DO UPDATE SET
			newsletter_title = EXCLUDED.newsletter_title,
			recipient_name = EXCLUDED.recipient_name,
			subject = EXCLUDED.subject
		 RETURNING id, created_at, (xmax = 0) AS created`,
		id,
		rec.NewsletterID,
		rec.NewsletterTitle,
		rec.RecipientEmail,
		rec.RecipientName,
		rec.RecipientUserID,
		rec.Subject,
	).Scan(&rec.ID, &rec.CreatedAt, &created)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to create delivery record", err)
	}
	return created, nil
}

func (r *TrackingRepository) MarkAsSent(ctx context.Context, newsletterID, email, providerMessageID string, attempts int) error {
	return r.mark(ctx, newsletterID, email, types.TrackingSent, attempts, nilIfEmpty(providerMessageID), nil)
}

func (r *TrackingRepository) MarkAsFailed(ctx context.Context, newsletterID, email, errMsg string, attempts int) error {
	return r.mark(ctx, newsletterID, email, types.TrackingFailed, attempts, nil, nilIfEmpty(errMsg))
}

func (r *TrackingRepository) MarkAsBounced(ctx context.Context, newsletterID, email, errMsg string, attempts int) error {
	return r.mark(ctx, newsletterID, email, types.TrackingBounced, attempts, nil, nilIfEmpty(errMsg))
}

// mark sets a terminal status. Re-marking overwrites; a sent record keeps its
// provider message ID only when the new status supplies one.
func (r *TrackingRepository) mark(ctx context.Context, newsletterID, email string, status types.TrackingStatus, attempts int, providerMsgID, errMsg *string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE delivery_tracking SET
			status = $1,
			attempts = $2,
			provider_message_id = COALESCE($3, provider_message_id),
			error_message = $4,
			status_updated_at = NOW()
		 WHERE newsletter_id = $5 AND recipient_email = $6`,
		string(status),
		attempts,
		providerMsgID,
		errMsg,
		newsletterID,
		email,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, fmt.Sprintf("failed to mark delivery %s", status), err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundDelivery, "delivery record not found", nil).
			WithDetails(map[string]any{"newsletter_id": newsletterID})
	}
	return nil
}

// GetCampaignSummary aggregates records by status in a single GROUP BY.
func (r *TrackingRepository) GetCampaignSummary(ctx context.Context, newsletterID string) (*types.CampaignSummary, error) {
	rows, err := r.db.Query(ctx,
		`SELECT status, COUNT(*)
		 FROM delivery_tracking
		 WHERE newsletter_id = $1
		 GROUP BY status`,
		newsletterID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to summarize campaign", err)
	}
	defer rows.Close()

	counts := make(map[types.TrackingStatus]int)
	total := 0
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan campaign summary", err)
		}
		counts[types.TrackingStatus(status)] = n
		total += n
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating campaign summary", err)
	}
	if total == 0 {
		return nil, types.NewAppError(types.ErrCodeNotFoundCampaign,
			fmt.Sprintf("no deliveries recorded for newsletter %s", newsletterID), nil)
	}

	summary := types.NewCampaignSummary(newsletterID, counts)
	return &summary, nil
}

// ListRecords returns records for a newsletter ordered by recipient email.
func (r *TrackingRepository) ListRecords(ctx context.Context, newsletterID string, status types.TrackingStatus) ([]types.TrackingRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, newsletter_id, newsletter_title, recipient_email, recipient_name,
		        recipient_user_id, subject, status, attempts, provider_message_id,
		        error_message, created_at, status_updated_at
		 FROM delivery_tracking
		 WHERE newsletter_id = $1 AND ($2 = '' OR status = $2)
		 ORDER BY recipient_email`,
		newsletterID,
		string(status),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list delivery records", err)
	}
	defer rows.Close()

	out := make([]types.TrackingRecord, 0)
	for rows.Next() {
		rec, err := scanTrackingRecord(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan delivery record", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating delivery records", err)
	}
	return out, nil
}

func scanTrackingRecord(row pgx.Row) (types.TrackingRecord, error) {
	var (
		rec    types.TrackingRecord
		status string
	)
	err := row.Scan(
		&rec.ID,
		&rec.NewsletterID,
		&rec.NewsletterTitle,
		&rec.RecipientEmail,
		&rec.RecipientName,
		&rec.RecipientUserID,
		&rec.Subject,
		&status,
		&rec.Attempts,
		&rec.ProviderMessageID,
		&rec.ErrorMessage,
		&rec.CreatedAt,
		&rec.StatusUpdatedAt,
	)
	rec.Status = types.TrackingStatus(status)
	return rec, err
}
