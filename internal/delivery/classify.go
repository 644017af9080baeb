package delivery

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"bulletin/internal/resilience"
	"bulletin/internal/types"
)

// ErrRecipientBlocked indicates the provider has the recipient on a
// suppression list. It is a permanent failure.
var ErrRecipientBlocked = errors.New("recipient blocked by provider")

// smtpPermanentCode matches a 550/551/553 reply or a 5.1.1 enhanced status
// standing as its own token, so ports, durations and larger numbers that
// merely contain those digits do not match.
var smtpPermanentCode = regexp.MustCompile(`(^|[^0-9a-z.:])(55[013]|5\.1\.1)([^0-9a-z.]|\.?$)`)

// permanentSignatures are lower-cased fragments of provider responses that
// identify an undeliverable address.
var permanentSignatures = []string{
	"mailbox does not exist",
	"address does not exist",
	"mailbox unavailable",
	"user unknown",
	"no such user",
	"invalid recipient",
	"invalid email",
	"address rejected",
}

// IsBounce reports whether a transport error is a permanent recipient
// failure. Cancellation and open-breaker errors are never bounces.
func IsBounce(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || resilience.IsOpen(err) {
		return false
	}
	if errors.Is(err, ErrRecipientBlocked) {
		return true
	}
	if types.HasCode(err, types.ErrCodeEmailBlocked) || types.HasCode(err, types.ErrCodeEmailInvalidRecipient) {
		return true
	}

	msg := strings.ToLower(err.Error())
	if smtpPermanentCode.MatchString(msg) {
		return true
	}
	for _, sig := range permanentSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// IsRetryable is the complement of IsBounce for errors that did not come
// from the state machine itself.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrInvalidTransition) {
		return false
	}
	return !IsBounce(err)
}
