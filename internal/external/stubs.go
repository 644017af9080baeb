package external

import (
	"context"
	"crypto/subtle"
	"fmt"

	"bulletin/internal/delivery"
	"bulletin/internal/types"

	"github.com/google/uuid"
)

// StubEmailProvider implements types.EmailProvider by logging calls and
// returning a fake message ID. Used when APP_ENV=local.
type StubEmailProvider struct {
	logger types.Logger
}

// NewStubEmailProvider creates a new StubEmailProvider.
func NewStubEmailProvider(logger types.Logger) *StubEmailProvider {
	return &StubEmailProvider{logger: logger}
}

func (s *StubEmailProvider) Name() string { return "stub" }

func (s *StubEmailProvider) Send(ctx context.Context, input types.SendInput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.logger.Info("stub: send email",
		"to", delivery.RedactEmail(input.To),
		"subject", input.Subject,
		"reference_id", input.ReferenceID,
	)
	return "msg_stub_" + uuid.NewString(), nil
}

// StubIdentityProvider accepts a single static token and grants it the
// configured role. Used when APP_ENV=local.
type StubIdentityProvider struct {
	token string
	role  types.Role
}

// NewStubIdentityProvider creates a StubIdentityProvider.
func NewStubIdentityProvider(token string, role types.Role) *StubIdentityProvider {
	return &StubIdentityProvider{token: token, role: role}
}

func (s *StubIdentityProvider) VerifyToken(_ context.Context, token string) (*types.Claims, error) {
	if token == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenMissing, "missing bearer token", nil)
	}
	if s.token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid token", nil)
	}
	return &types.Claims{
		UID:   "local-admin",
		Email: "admin@localhost",
		Role:  s.role,
	}, nil
}

func (s *StubIdentityProvider) String() string {
	return fmt.Sprintf("StubIdentityProvider(role=%s)", s.role)
}
