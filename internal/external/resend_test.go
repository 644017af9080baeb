package external

import (
	"context"
	"errors"
	"testing"

	"bulletin/internal/types"

	"github.com/resend/resend-go/v3"
)

type mockResendAPI struct {
	got  *resend.SendEmailRequest
	resp *resend.SendEmailResponse
	err  error
}

func (m *mockResendAPI) SendWithContext(_ context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error) {
	m.got = params
	return m.resp, m.err
}

func TestResendClient_Send_BuildsRequest(t *testing.T) {
	api := &mockResendAPI{resp: &resend.SendEmailResponse{Id: "re_123"}}
	client := NewResendClientWithAPI(api)

	id, err := client.Send(context.Background(), types.SendInput{
		To:          "reader@example.com",
		ToName:      "Ada Reader",
		From:        types.SenderIdentity{Address: "news@example.com", Name: "The Bulletin"},
		Subject:     "Issue 42",
		BodyHTML:    "<p>hi</p>",
		BodyText:    "hi",
		ReferenceID: "rec-1",
		Tags:        map[string]string{"newsletter": "nl 42", "campaign": "c-1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "re_123" {
		t.Errorf("id = %q, want re_123", id)
	}

	req := api.got
	if req.From != "The Bulletin <news@example.com>" {
		t.Errorf("From = %q", req.From)
	}
	if len(req.To) != 1 || req.To[0] != "Ada Reader <reader@example.com>" {
		t.Errorf("To = %v", req.To)
	}
	if req.Subject != "Issue 42" || req.Html != "<p>hi</p>" || req.Text != "hi" {
		t.Errorf("content not copied: %+v", req)
	}
	if req.Headers["X-Entity-Ref-ID"] != "rec-1" {
		t.Errorf("reference header missing: %v", req.Headers)
	}
	if len(req.Tags) != 2 || req.Tags[0].Name != "campaign" || req.Tags[1].Value != "nl_42" {
		t.Errorf("tags not sorted and sanitized: %+v", req.Tags)
	}
}

func TestResendClient_Send_AddressWithoutName(t *testing.T) {
	api := &mockResendAPI{resp: &resend.SendEmailResponse{Id: "re_1"}}
	client := NewResendClientWithAPI(api)

	if _, err := client.Send(context.Background(), types.SendInput{
		To:   "reader@example.com",
		From: types.SenderIdentity{Address: "news@example.com"},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if api.got.From != "news@example.com" || api.got.To[0] != "reader@example.com" {
		t.Errorf("bare addresses expected, got From=%q To=%v", api.got.From, api.got.To)
	}
	if api.got.Headers != nil || api.got.Tags != nil {
		t.Errorf("expected no headers or tags")
	}
}

func TestResendClient_Send_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.ErrorCode
	}{
		{"rate limited", errors.New("[ERROR]: 429 Too many requests"), types.ErrCodeUpstreamRateLimited},
		{"validation", errors.New("[ERROR]: validation_error: Invalid `to` field"), types.ErrCodeEmailInvalidRecipient},
		{"suppressed", errors.New("recipient is on the suppression list"), types.ErrCodeEmailBlocked},
		{"server error", errors.New("[ERROR]: 500 internal server error"), types.ErrCodeUpstreamEmailProvider},
		{"cancelled", context.Canceled, types.ErrCodeUpstreamEmailProvider},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewResendClientWithAPI(&mockResendAPI{err: tt.err})
			_, err := client.Send(context.Background(), types.SendInput{To: "a@example.com"})
			if !types.HasCode(err, tt.want) {
				t.Errorf("got %v, want code %s", err, tt.want)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("cause not preserved: %v", err)
			}
		})
	}
}

func TestResendClient_Send_NilResponse(t *testing.T) {
	client := NewResendClientWithAPI(&mockResendAPI{})
	_, err := client.Send(context.Background(), types.SendInput{To: "a@example.com"})
	if !types.HasCode(err, types.ErrCodeUpstreamEmailProvider) {
		t.Errorf("expected provider error, got %v", err)
	}
}

func TestResendClient_Name(t *testing.T) {
	if got := NewResendClient("re_test").Name(); got != "resend" {
		t.Errorf("Name() = %q", got)
	}
}
