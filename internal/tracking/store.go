// Package tracking maintains the durable per-recipient delivery status of a
// campaign. Store is the persistence contract (implemented by the Postgres
// repository in internal/db and by MemoryStore); Tracker layers logging and
// error containment on top so a failed tracking write never stops a campaign.
package tracking

import (
	"context"

	"bulletin/internal/types"

	"github.com/google/uuid"
)

// Store persists TrackingRecords keyed by (newsletter ID, recipient email).
// Implementations must allow concurrent writes to distinct keys.
type Store interface {
	// CreateDeliveryRecord inserts a pending record. Creating an existing key
	// is not an error; created reports whether a new row was written.
	CreateDeliveryRecord(ctx context.Context, rec *types.TrackingRecord) (created bool, err error)

	// MarkAsSent, MarkAsFailed and MarkAsBounced set the terminal status of an
	// existing record. A missing record yields ErrCodeNotFoundDelivery.
	// Marking an already-terminal record overwrites it.
	MarkAsSent(ctx context.Context, newsletterID, email, providerMessageID string, attempts int) error
	MarkAsFailed(ctx context.Context, newsletterID, email, errMsg string, attempts int) error
	MarkAsBounced(ctx context.Context, newsletterID, email, errMsg string, attempts int) error

	// GetCampaignSummary aggregates records by status. A newsletter with no
	// records yields ErrCodeNotFoundCampaign.
	GetCampaignSummary(ctx context.Context, newsletterID string) (*types.CampaignSummary, error)

	// ListRecords returns the records of a newsletter ordered by recipient.
	// An empty status lists every record.
	ListRecords(ctx context.Context, newsletterID string, status types.TrackingStatus) ([]types.TrackingRecord, error)
}

// recordNamespace scopes the deterministic record IDs.
var recordNamespace = uuid.MustParse("6f1c2a4e-9b3d-5e7f-8a21-3c4d5e6f7a8b")

// RecordID returns the deterministic ID for a (newsletter, recipient) key, so
// retried creations always address the same row.
func RecordID(newsletterID, email string) string {
	return uuid.NewSHA1(recordNamespace, []byte(newsletterID+"\x00"+email)).String()
}
