package types

import "time"

// Newsletter is a content-store record describing one issue.
// Body holds inline HTML; when BodyKey is set the rendered HTML lives in
// object storage and is resolved at campaign time.
type Newsletter struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Subject     string           `json:"subject"`
	Body        string           `json:"body,omitempty"`
	BodyText    string           `json:"body_text,omitempty"`
	BodyKey     string           `json:"body_key,omitempty"`
	Status      NewsletterStatus `json:"status"`
	PublishedAt *time.Time       `json:"published_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// EmailSubject returns the subject line, falling back to the title.
func (n Newsletter) EmailSubject() string {
	if n.Subject != "" {
		return n.Subject
	}
	return n.Title
}

// Subscriber is a content-store record for one mailing-list member.
type Subscriber struct {
	ID        string           `json:"id"`
	Email     string           `json:"email"`
	Name      string           `json:"name"`
	UserID    *string          `json:"user_id,omitempty"`
	Status    SubscriberStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

// Recipient is the minimal addressing data the dispatcher needs.
type Recipient struct {
	Email  string  `json:"email"`
	Name   string  `json:"name"`
	UserID *string `json:"user_id,omitempty"`
}

// DeliveryItem is one outbound email attempt for a (newsletter, recipient)
// pair. It lives only for the duration of a campaign run; durable state is
// kept in TrackingRecord.
type DeliveryItem struct {
	NewsletterID      string         `json:"newsletter_id"`
	RecipientEmail    string         `json:"recipient_email"`
	RecipientName     string         `json:"recipient_name"`
	Subject           string         `json:"subject"`
	Status            DeliveryStatus `json:"status"`
	Attempts          int            `json:"attempts"`
	MaxRetries        int            `json:"max_retries"`
	LastError         string         `json:"last_error,omitempty"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
}

// TrackingRecord is the durable per-recipient delivery status for a campaign,
// keyed by (NewsletterID, RecipientEmail).
type TrackingRecord struct {
	ID                string         `json:"id"`
	NewsletterID      string         `json:"newsletter_id"`
	NewsletterTitle   string         `json:"newsletter_title"`
	RecipientEmail    string         `json:"recipient_email"`
	RecipientName     string         `json:"recipient_name"`
	RecipientUserID   *string        `json:"recipient_user_id,omitempty"`
	Subject           string         `json:"subject"`
	Status            TrackingStatus `json:"status"`
	Attempts          int            `json:"attempts"`
	ProviderMessageID *string        `json:"provider_message_id,omitempty"`
	ErrorMessage      *string        `json:"error_message,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	StatusUpdatedAt   time.Time      `json:"status_updated_at"`
}

// CampaignSummary aggregates tracking records for one newsletter.
// It is derived on demand and never stored.
type CampaignSummary struct {
	NewsletterID string  `json:"newsletter_id"`
	Total        int     `json:"total"`
	Sent         int     `json:"sent"`
	Failed       int     `json:"failed"`
	Bounced      int     `json:"bounced"`
	Pending      int     `json:"pending"`
	SuccessRate  float64 `json:"success_rate"`
	BounceRate   float64 `json:"bounce_rate"`
}

// NewCampaignSummary builds a summary from per-status counts and derives the
// totals and rates.
func NewCampaignSummary(newsletterID string, counts map[TrackingStatus]int) CampaignSummary {
	s := CampaignSummary{
		NewsletterID: newsletterID,
		Sent:         counts[TrackingSent],
		Failed:       counts[TrackingFailed],
		Bounced:      counts[TrackingBounced],
		Pending:      counts[TrackingPending],
	}
	s.Total = s.Sent + s.Failed + s.Bounced + s.Pending
	if s.Total > 0 {
		s.SuccessRate = float64(s.Sent) / float64(s.Total)
		s.BounceRate = float64(s.Bounced) / float64(s.Total)
	}
	return s
}

// DispatchStats is the aggregate outcome reported by the batch dispatcher.
// Sent + Failed + Bounced + Pending == Total at every observation point.
type DispatchStats struct {
	Sent        int     `json:"sent"`
	Failed      int     `json:"failed"`
	Bounced     int     `json:"bounced"`
	Pending     int     `json:"pending"`
	Total       int     `json:"total"`
	Batches     int     `json:"batches"`
	SuccessRate float64 `json:"success_rate"`
}

// CampaignResult is returned by the campaign orchestrator once a run has
// completed.
type CampaignResult struct {
	NewsletterID     string        `json:"newsletter_id"`
	Published        bool          `json:"published"`
	SubscriberCount  int           `json:"subscriber_count"`
	EmailsSent       int           `json:"emails_sent"`
	EmailsFailed     int           `json:"emails_failed"`
	EmailsBounced    int           `json:"emails_bounced"`
	ProcessingTimeMs int64         `json:"processing_time_ms"`
	Stats            DispatchStats `json:"stats"`
}

// SendInput is the pre-rendered content handed to an EmailProvider.
type SendInput struct {
	To          string
	ToName      string
	From        SenderIdentity
	Subject     string
	BodyHTML    string
	BodyText    string
	ReferenceID string
	Tags        map[string]string
}

// SenderIdentity is the From address of an outbound email.
type SenderIdentity struct {
	Address string
	Name    string
}

// Claims is the verified identity returned by the identity provider.
type Claims struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// IsAdmin reports whether the claims carry the admin role.
func (c Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}
