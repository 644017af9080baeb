package types

// NewsletterStatus represents the publication state of a Newsletter.
type NewsletterStatus string

const (
	NewsletterDraft     NewsletterStatus = "draft"
	NewsletterPublished NewsletterStatus = "published"
	NewsletterArchived  NewsletterStatus = "archived"
)

// SubscriberStatus represents whether a subscriber receives campaigns.
type SubscriberStatus string

const (
	SubscriberActive       SubscriberStatus = "active"
	SubscriberUnsubscribed SubscriberStatus = "unsubscribed"
	SubscriberBounced      SubscriberStatus = "bounced"
)

// DeliveryStatus is the in-flight lifecycle state of a single DeliveryItem.
//
//	pending -> sending -> {sent | failed | bounced}
//
// A retryable failure returns the item to pending while attempts remain.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySending DeliveryStatus = "sending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliveryBounced DeliveryStatus = "bounced"
)

// TrackingStatus is the durable status persisted on a TrackingRecord.
// It has no "sending" state: records move from pending to exactly one
// terminal status.
type TrackingStatus string

const (
	TrackingPending TrackingStatus = "pending"
	TrackingSent    TrackingStatus = "sent"
	TrackingFailed  TrackingStatus = "failed"
	TrackingBounced TrackingStatus = "bounced"
)

// IsValid reports whether s is one of the known tracking statuses.
func (s TrackingStatus) IsValid() bool {
	switch s {
	case TrackingPending, TrackingSent, TrackingFailed, TrackingBounced:
		return true
	}
	return false
}

// IsTerminal reports whether s is a final outcome.
func (s TrackingStatus) IsTerminal() bool {
	return s == TrackingSent || s == TrackingFailed || s == TrackingBounced
}

// Role is the authorization claim issued by the identity provider.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleReader Role = "reader"
)
