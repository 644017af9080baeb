package external

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"bulletin/internal/types"

	"github.com/resend/resend-go/v3"
)

// ResendEmailsAPI is the subset of the Resend emails service used by
// ResendClient. *resend.Client's Emails field satisfies it.
type ResendEmailsAPI interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendClient implements types.EmailProvider on the Resend API.
type ResendClient struct {
	api ResendEmailsAPI
}

var _ types.EmailProvider = (*ResendClient)(nil)

// NewResendClient creates a ResendClient authenticated with apiKey.
func NewResendClient(apiKey string) *ResendClient {
	return &ResendClient{api: resend.NewClient(apiKey).Emails}
}

// NewResendClientWithAPI creates a ResendClient over a pre-configured API,
// typically a mock in tests.
func NewResendClientWithAPI(api ResendEmailsAPI) *ResendClient {
	return &ResendClient{api: api}
}

func (c *ResendClient) Name() string { return "resend" }

// Send transmits one pre-rendered email.
//
// Error mapping:
//   - validation / 422 / invalid address → ErrCodeEmailInvalidRecipient
//   - suppressed or blocked recipient → ErrCodeEmailBlocked
//   - 429 / rate limit → ErrCodeUpstreamRateLimited
//   - anything else → ErrCodeUpstreamEmailProvider
func (c *ResendClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	req := &resend.SendEmailRequest{
		From:    formatAddress(input.From.Name, input.From.Address),
		To:      []string{formatAddress(input.ToName, input.To)},
		Subject: input.Subject,
		Html:    input.BodyHTML,
		Text:    input.BodyText,
	}
	if input.ReferenceID != "" {
		req.Headers = map[string]string{"X-Entity-Ref-ID": input.ReferenceID}
	}
	if len(input.Tags) > 0 {
		req.Tags = convertTags(input.Tags)
	}

	resp, err := c.api.SendWithContext(ctx, req)
	if err != nil {
		return "", mapResendError(err)
	}
	if resp == nil {
		return "", types.NewAppError(types.ErrCodeUpstreamEmailProvider, "resend returned an empty response", nil)
	}
	return resp.Id, nil
}

func formatAddress(name, addr string) string {
	if name == "" {
		return addr
	}
	return fmt.Sprintf("%s <%s>", strings.ReplaceAll(name, `"`, ""), addr)
}

// convertTags sorts by name so requests are deterministic. Resend only
// accepts ASCII letters, digits, underscores and dashes in tag values.
func convertTags(tags map[string]string) []resend.Tag {
	out := make([]resend.Tag, 0, len(tags))
	for name, value := range tags {
		out = append(out, resend.Tag{Name: name, Value: sanitizeTag(value)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sanitizeTag(v string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, v)
}

// mapResendError classifies Resend SDK errors, which surface the API's
// status and message as text.
func mapResendError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return types.NewAppError(types.ErrCodeUpstreamEmailProvider, "resend request cancelled", err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") || strings.Contains(msg, "too many requests"):
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, fmt.Sprintf("resend rate limit exceeded: %v", err), err)
	case strings.Contains(msg, "suppress") || strings.Contains(msg, "blocked"):
		return types.NewAppError(types.ErrCodeEmailBlocked, fmt.Sprintf("resend blocked recipient: %v", err), err)
	case strings.Contains(msg, "validation_error") || strings.Contains(msg, "422") ||
		strings.Contains(msg, "invalid `to`") || strings.Contains(msg, "invalid to"):
		return types.NewAppError(types.ErrCodeEmailInvalidRecipient, fmt.Sprintf("resend rejected recipient: %v", err), err)
	}
	return types.NewAppError(types.ErrCodeUpstreamEmailProvider, fmt.Sprintf("resend error: %v", err), err)
}
