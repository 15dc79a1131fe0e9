package telephony

import (
	"context"
	"errors"
	"strings"
)

// ErrInvalidNumber marks a phone number that cannot be normalized to an
// international format. Handlers map it to a validation error, never a retry.
var ErrInvalidNumber = errors.New("invalid phone number")

// Dialer places an outbound call that lands back in the IVR webhook flow.
type Dialer interface {
	CreateCall(ctx context.Context, to string) (callSid string, err error)
}

// NormalizeNumber converts user input to E.164-ish form. A leading + passes
// through untouched, a bare 10-digit number gets the default country code,
// anything else is rejected.
func NormalizeNumber(raw string, countryCode string) (string, error) {
	number := strings.TrimSpace(raw)
	if number == "" {
		return "", ErrInvalidNumber
	}
	if strings.HasPrefix(number, "+") {
		return number, nil
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, number)
	if len(digits) != 10 {
		return "", ErrInvalidNumber
	}
	return countryCode + digits, nil
}
