// Package delivery implements the per-recipient delivery state machine and
// the batch dispatcher that drives a campaign's sends through the transport
// provider with bounded concurrency, retry, and bounce classification.
package delivery

import (
	"errors"
	"fmt"

	"bulletin/internal/types"
)

// ErrInvalidTransition is returned when a state change is not permitted from
// the item's current status.
var ErrInvalidTransition = errors.New("invalid delivery state transition")

// Item is the mutable in-flight form of a types.DeliveryItem. It is owned by
// a single dispatcher goroutine at a time and is never persisted.
//
//	pending -> sending -> sent
//	                   -> pending   (retryable failure, attempts remain)
//	                   -> failed    (retryable failure, attempts exhausted)
//	                   -> bounced   (permanent failure)
//	pending -> failed               (abandoned before an attempt)
type Item struct {
	d types.DeliveryItem
}

// NewItem builds a pending item for one recipient of nl.
func NewItem(nl types.Newsletter, r types.Recipient, maxRetries int) *Item {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Item{d: types.DeliveryItem{
		NewsletterID:   nl.ID,
		RecipientEmail: NormalizeEmail(r.Email),
		RecipientName:  r.Name,
		Subject:        nl.EmailSubject(),
		Status:         types.DeliveryPending,
		MaxRetries:     maxRetries,
	}}
}

// Snapshot returns a copy of the item's current state.
func (it *Item) Snapshot() types.DeliveryItem { return it.d }

// Status returns the current lifecycle state.
func (it *Item) Status() types.DeliveryStatus { return it.d.Status }

// Attempts returns how many sends have been started.
func (it *Item) Attempts() int { return it.d.Attempts }

// Email returns the normalized recipient address.
func (it *Item) Email() string { return it.d.RecipientEmail }

// CanAttempt reports whether another send may be started.
func (it *Item) CanAttempt() bool {
	return it.d.Status == types.DeliveryPending && it.d.Attempts < it.d.MaxRetries
}

// IsTerminal reports whether the item has reached a final outcome.
func (it *Item) IsTerminal() bool {
	switch it.d.Status {
	case types.DeliverySent, types.DeliveryBounced, types.DeliveryFailed:
		return true
	}
	return false
}

// Begin moves a pending item to sending and counts the attempt.
func (it *Item) Begin() error {
	if !it.CanAttempt() {
		return it.invalid(types.DeliverySending)
	}
	it.d.Status = types.DeliverySending
	it.d.Attempts++
	return nil
}

// MarkSent records a successful send.
func (it *Item) MarkSent(providerMessageID string) error {
	if it.d.Status != types.DeliverySending {
		return it.invalid(types.DeliverySent)
	}
	it.d.Status = types.DeliverySent
	it.d.ProviderMessageID = providerMessageID
	it.d.LastError = ""
	return nil
}

// MarkRetryable records a transient failure. The item returns to pending
// while attempts remain and becomes terminally failed otherwise.
func (it *Item) MarkRetryable(cause error) error {
	if it.d.Status != types.DeliverySending {
		return it.invalid(types.DeliveryPending)
	}
	it.d.LastError = errorText(cause)
	if it.d.Attempts >= it.d.MaxRetries {
		it.d.Status = types.DeliveryFailed
		return nil
	}
	it.d.Status = types.DeliveryPending
	return nil
}

// MarkFailed ends the item as failed regardless of remaining attempts.
func (it *Item) MarkFailed(cause error) error {
	if it.d.Status != types.DeliverySending && it.d.Status != types.DeliveryPending {
		return it.invalid(types.DeliveryFailed)
	}
	it.d.Status = types.DeliveryFailed
	it.d.LastError = errorText(cause)
	return nil
}

// MarkBounced records a permanent recipient failure. Bounced items are never
// retried.
func (it *Item) MarkBounced(cause error) error {
	if it.d.Status != types.DeliverySending && it.d.Status != types.DeliveryPending {
		return it.invalid(types.DeliveryBounced)
	}
	it.d.Status = types.DeliveryBounced
	it.d.LastError = errorText(cause)
	return nil
}

func (it *Item) invalid(to types.DeliveryStatus) error {
	return fmt.Errorf("%w: %s -> %s (attempts %d/%d)", ErrInvalidTransition, it.d.Status, to, it.d.Attempts, it.d.MaxRetries)
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
