package tracking

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"bulletin/internal/types"
)

var _ Store = (*MemoryStore)(nil)

type recordKey struct {
	newsletterID string
	email        string
}

// MemoryStore is a mutex-guarded Store for local mode and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[recordKey]types.TrackingRecord
	clock   types.Clock
}

// NewMemoryStore creates an empty MemoryStore. A nil clock uses RealClock.
func NewMemoryStore(clock types.Clock) *MemoryStore {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &MemoryStore{
		records: make(map[recordKey]types.TrackingRecord),
		clock:   clock,
	}
}

func (s *MemoryStore) CreateDeliveryRecord(_ context.Context, rec *types.TrackingRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{rec.NewsletterID, rec.RecipientEmail}
	if _, exists := s.records[key]; exists {
		return false, nil
	}

	now := s.clock.Now()
	stored := *rec
	if stored.ID == "" {
		stored.ID = RecordID(rec.NewsletterID, rec.RecipientEmail)
	}
	stored.Status = types.TrackingPending
	stored.CreatedAt = now
	stored.StatusUpdatedAt = now
	s.records[key] = stored
	return true, nil
}

func (s *MemoryStore) MarkAsSent(_ context.Context, newsletterID, email, providerMessageID string, attempts int) error {
	return s.mark(newsletterID, email, types.TrackingSent, attempts, func(r *types.TrackingRecord) {
		id := providerMessageID
		r.ProviderMessageID = &id
		r.ErrorMessage = nil
	})
}

func (s *MemoryStore) MarkAsFailed(_ context.Context, newsletterID, email, errMsg string, attempts int) error {
	return s.mark(newsletterID, email, types.TrackingFailed, attempts, func(r *types.TrackingRecord) {
		msg := errMsg
		r.ErrorMessage = &msg
	})
}

func (s *MemoryStore) MarkAsBounced(_ context.Context, newsletterID, email, errMsg string, attempts int) error {
	return s.mark(newsletterID, email, types.TrackingBounced, attempts, func(r *types.TrackingRecord) {
		msg := errMsg
		r.ErrorMessage = &msg
	})
}

func (s *MemoryStore) mark(newsletterID, email string, status types.TrackingStatus, attempts int, apply func(*types.TrackingRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{newsletterID, email}
	rec, ok := s.records[key]
	if !ok {
		return types.NewAppError(
			types.ErrCodeNotFoundDelivery,
			fmt.Sprintf("no delivery record for newsletter %s", newsletterID),
			nil,
		)
	}
	rec.Status = status
	rec.Attempts = attempts
	rec.StatusUpdatedAt = s.clock.Now()
	apply(&rec)
	s.records[key] = rec
	return nil
}

func (s *MemoryStore) GetCampaignSummary(_ context.Context, newsletterID string) (*types.CampaignSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[types.TrackingStatus]int)
	found := 0
	for key, rec := range s.records {
		if key.newsletterID != newsletterID {
			continue
		}
		counts[rec.Status]++
		found++
	}
	if found == 0 {
		return nil, types.NewAppError(
			types.ErrCodeNotFoundCampaign,
			fmt.Sprintf("no deliveries recorded for newsletter %s", newsletterID),
			nil,
		)
	}

	summary := types.NewCampaignSummary(newsletterID, counts)
	return &summary, nil
}

func (s *MemoryStore) ListRecords(_ context.Context, newsletterID string, status types.TrackingStatus) ([]types.TrackingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.TrackingRecord, 0)
	for key, rec := range s.records {
		if key.newsletterID != newsletterID {
			continue
		}
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecipientEmail < out[j].RecipientEmail })
	return out, nil
}
