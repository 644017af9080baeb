package types

import "time"

// DispatchOverrides carries optional per-campaign dispatcher settings.
// Zero values fall back to the configured defaults.
type DispatchOverrides struct {
	BatchSize             int `json:"batch_size,omitempty" validate:"omitempty,min=1,max=100"`
	DelayBetweenBatchesMs int `json:"delay_between_batches_ms,omitempty" validate:"omitempty,min=0,max=60000"`
	MaxRetries            int `json:"max_retries,omitempty" validate:"omitempty,min=1,max=10"`
	RetryDelayMs          int `json:"retry_delay_ms,omitempty" validate:"omitempty,min=0,max=60000"`
}

// DelayBetweenBatches returns the override as a duration.
func (o DispatchOverrides) DelayBetweenBatches() time.Duration {
	return time.Duration(o.DelayBetweenBatchesMs) * time.Millisecond
}

// RetryDelay returns the override as a duration.
func (o DispatchOverrides) RetryDelay() time.Duration {
	return time.Duration(o.RetryDelayMs) * time.Millisecond
}

// CampaignRequest is the SQS payload that asks the campaign worker to publish
// a newsletter and deliver it to every active subscriber.
type CampaignRequest struct {
	NewsletterID string            `json:"newsletter_id" validate:"required"`
	RequestedBy  string            `json:"requested_by,omitempty"`
	Options      DispatchOverrides `json:"options"`
	TraceID      string            `json:"trace_id,omitempty"`
}
