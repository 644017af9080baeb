package types

import (
	"context"
	"testing"
)

func TestNewCampaignSummary(t *testing.T) {
	s := NewCampaignSummary("nl_1", map[TrackingStatus]int{
		TrackingSent:    6,
		TrackingFailed:  1,
		TrackingBounced: 2,
		TrackingPending: 1,
	})

	if s.Total != 10 {
		t.Errorf("Total = %d, want 10", s.Total)
	}
	if s.Sent+s.Failed+s.Bounced+s.Pending != s.Total {
		t.Errorf("counts do not sum to total: %+v", s)
	}
	if s.SuccessRate != 0.6 {
		t.Errorf("SuccessRate = %v, want 0.6", s.SuccessRate)
	}
	if s.BounceRate != 0.2 {
		t.Errorf("BounceRate = %v, want 0.2", s.BounceRate)
	}
}

func TestNewCampaignSummary_Empty(t *testing.T) {
	s := NewCampaignSummary("nl_1", nil)
	if s.Total != 0 || s.SuccessRate != 0 || s.BounceRate != 0 {
		t.Errorf("empty summary = %+v, want zeros", s)
	}
}

func TestNewsletterEmailSubject(t *testing.T) {
	if got := (Newsletter{Title: "Weekly", Subject: "This week"}).EmailSubject(); got != "This week" {
		t.Errorf("EmailSubject() = %q, want subject", got)
	}
	if got := (Newsletter{Title: "Weekly"}).EmailSubject(); got != "Weekly" {
		t.Errorf("EmailSubject() = %q, want title fallback", got)
	}
}

func TestTrackingStatus(t *testing.T) {
	for _, s := range []TrackingStatus{TrackingSent, TrackingFailed, TrackingBounced} {
		if !s.IsValid() || !s.IsTerminal() {
			t.Errorf("%q should be valid and terminal", s)
		}
	}
	if !TrackingPending.IsValid() || TrackingPending.IsTerminal() {
		t.Error("pending should be valid and not terminal")
	}
	if TrackingStatus("sending").IsValid() {
		t.Error("sending is not a tracking status")
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	if _, ok := GetClaims(ctx); ok {
		t.Fatal("empty context should have no claims")
	}
	if GetRequestID(ctx) != "" {
		t.Fatal("empty context should have no request id")
	}
	if LoggerFromContext(ctx) != nil {
		t.Fatal("empty context should have no logger")
	}

	ctx = WithClaims(ctx, Claims{UID: "u1", Email: "ed@example.com", Role: RoleAdmin})
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithLogger(ctx, NopLogger{})

	claims, ok := GetClaims(ctx)
	if !ok || claims.UID != "u1" || !claims.IsAdmin() {
		t.Errorf("GetClaims() = %+v, %v", claims, ok)
	}
	if GetRequestID(ctx) != "req-1" {
		t.Errorf("GetRequestID() = %q", GetRequestID(ctx))
	}
	if LoggerFromContext(ctx) == nil {
		t.Error("LoggerFromContext() returned nil")
	}
}
