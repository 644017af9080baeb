package tracking

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"bulletin/internal/types"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func pendingRecord(nlID, email string) *types.TrackingRecord {
	return &types.TrackingRecord{
		NewsletterID:   nlID,
		RecipientEmail: email,
		Subject:        "Issue 12",
		Status:         types.TrackingPending,
	}
}

func TestMemoryStore_CreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(fixedClock{time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)})

	created, err := s.CreateDeliveryRecord(ctx, pendingRecord("nl_1", "a@example.com"))
	if err != nil || !created {
		t.Fatalf("first create = (%v, %v), want (true, nil)", created, err)
	}
	created, err = s.CreateDeliveryRecord(ctx, pendingRecord("nl_1", "a@example.com"))
	if err != nil || created {
		t.Fatalf("second create = (%v, %v), want (false, nil)", created, err)
	}

	recs, _ := s.ListRecords(ctx, "nl_1", "")
	if len(recs) != 1 {
		t.Fatalf("records = %d, want exactly 1 per key", len(recs))
	}
	if recs[0].ID != RecordID("nl_1", "a@example.com") {
		t.Errorf("ID = %q, want deterministic record id", recs[0].ID)
	}
	if recs[0].CreatedAt.IsZero() || recs[0].Status != types.TrackingPending {
		t.Errorf("unexpected record: %+v", recs[0])
	}
}

func TestMemoryStore_CreateDoesNotResetTerminalRecord(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	_, _ = s.CreateDeliveryRecord(ctx, pendingRecord("nl_1", "a@example.com"))
	_ = s.MarkAsSent(ctx, "nl_1", "a@example.com", "msg-1", 1)

	_, _ = s.CreateDeliveryRecord(ctx, pendingRecord("nl_1", "a@example.com"))

	recs, _ := s.ListRecords(ctx, "nl_1", types.TrackingSent)
	if len(recs) != 1 {
		t.Fatalf("re-creating a record must not reset its status")
	}
}

func TestMemoryStore_MarkTransitions(t *testing.T) {
	ctx := context.Background()
	later := time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)
	s := NewMemoryStore(fixedClock{later})
	for _, e := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		_, _ = s.CreateDeliveryRecord(ctx, pendingRecord("nl_1", e))
	}

	if err := s.MarkAsSent(ctx, "nl_1", "a@example.com", "msg-a", 1); err != nil {
		t.Fatalf("MarkAsSent: %v", err)
	}
	if err := s.MarkAsFailed(ctx, "nl_1", "b@example.com", "timeout", 3); err != nil {
		t.Fatalf("MarkAsFailed: %v", err)
	}
	if err := s.MarkAsBounced(ctx, "nl_1", "c@example.com", "550 user unknown", 1); err != nil {
		t.Fatalf("MarkAsBounced: %v", err)
	}

	recs, _ := s.ListRecords(ctx, "nl_1", "")
	if len(recs) != 3 {
		t.Fatalf("records = %d", len(recs))
	}
	a, b, c := recs[0], recs[1], recs[2]
	if a.Status != types.TrackingSent || a.ProviderMessageID == nil || *a.ProviderMessageID != "msg-a" {
		t.Errorf("a = %+v", a)
	}
	if b.Status != types.TrackingFailed || b.ErrorMessage == nil || *b.ErrorMessage != "timeout" || b.Attempts != 3 {
		t.Errorf("b = %+v", b)
	}
	if c.Status != types.TrackingBounced || c.ErrorMessage == nil {
		t.Errorf("c = %+v", c)
	}
	if !a.StatusUpdatedAt.Equal(later) {
		t.Errorf("StatusUpdatedAt = %v, want %v", a.StatusUpdatedAt, later)
	}
}

func TestMemoryStore_RemarkOverwrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	_, _ = s.CreateDeliveryRecord(ctx, pendingRecord("nl_1", "a@example.com"))
	_ = s.MarkAsFailed(ctx, "nl_1", "a@example.com", "timeout", 3)
	_ = s.MarkAsSent(ctx, "nl_1", "a@example.com", "msg-1", 3)

	recs, _ := s.ListRecords(ctx, "nl_1", "")
	if recs[0].Status != types.TrackingSent || recs[0].ErrorMessage != nil {
		t.Errorf("record = %+v, want sent with cleared error", recs[0])
	}
}

func TestMemoryStore_MarkMissingRecord(t *testing.T) {
	err := NewMemoryStore(nil).MarkAsSent(context.Background(), "nl_1", "ghost@example.com", "m", 1)
	if !types.HasCode(err, types.ErrCodeNotFoundDelivery) {
		t.Errorf("err = %v, want %s", err, types.ErrCodeNotFoundDelivery)
	}
}

func TestMemoryStore_Summary(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	if _, err := s.GetCampaignSummary(ctx, "nl_1"); !types.HasCode(err, types.ErrCodeNotFoundCampaign) {
		t.Fatalf("empty summary err = %v, want %s", err, types.ErrCodeNotFoundCampaign)
	}

	for i := 0; i < 4; i++ {
		_, _ = s.CreateDeliveryRecord(ctx, pendingRecord("nl_1", fmt.Sprintf("r%d@example.com", i)))
	}
	_, _ = s.CreateDeliveryRecord(ctx, pendingRecord("nl_other", "r0@example.com"))
	_ = s.MarkAsSent(ctx, "nl_1", "r0@example.com", "m0", 1)
	_ = s.MarkAsSent(ctx, "nl_1", "r1@example.com", "m1", 1)
	_ = s.MarkAsBounced(ctx, "nl_1", "r2@example.com", "user unknown", 1)

	sum, err := s.GetCampaignSummary(ctx, "nl_1")
	if err != nil {
		t.Fatalf("GetCampaignSummary: %v", err)
	}
	if sum.Total != 4 || sum.Sent != 2 || sum.Bounced != 1 || sum.Pending != 1 || sum.Failed != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.SuccessRate != 0.5 {
		t.Errorf("SuccessRate = %v, want 0.5", sum.SuccessRate)
	}
}

func TestMemoryStore_ConcurrentDistinctKeys(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			email := fmt.Sprintf("r%03d@example.com", i)
			_, _ = s.CreateDeliveryRecord(ctx, pendingRecord("nl_1", email))
			_ = s.MarkAsSent(ctx, "nl_1", email, "m", 1)
		}(i)
	}
	wg.Wait()

	sum, err := s.GetCampaignSummary(ctx, "nl_1")
	if err != nil || sum.Sent != 100 {
		t.Errorf("summary = %+v, %v; want sent:100", sum, err)
	}
}
