package external

import (
	"context"
	"strings"
	"testing"

	"bulletin/internal/types"
)

func TestStubEmailProvider_Send(t *testing.T) {
	p := NewStubEmailProvider(types.NopLogger{})
	id, err := p.Send(context.Background(), types.SendInput{To: "reader@example.com", Subject: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(id, "msg_stub_") {
		t.Errorf("id = %q", id)
	}
}

func TestStubEmailProvider_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewStubEmailProvider(types.NopLogger{}).Send(ctx, types.SendInput{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestStubIdentityProvider(t *testing.T) {
	p := NewStubIdentityProvider("local-token", types.RoleAdmin)

	claims, err := p.VerifyToken(context.Background(), "local-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !claims.IsAdmin() {
		t.Errorf("expected admin claims, got %+v", claims)
	}

	if _, err := p.VerifyToken(context.Background(), "wrong"); !types.HasCode(err, types.ErrCodeAuthTokenInvalid) {
		t.Errorf("expected invalid token, got %v", err)
	}
	if _, err := p.VerifyToken(context.Background(), ""); !types.HasCode(err, types.ErrCodeAuthTokenMissing) {
		t.Errorf("expected missing token, got %v", err)
	}
}
