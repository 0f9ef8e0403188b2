package domain

import (
	"fmt"
	"strings"
)

// DefaultCountryPrefix is the international prefix the gateway requires.
const DefaultCountryPrefix = "254"

const subscriberDigits = 9

// NormalizePhone canonicalizes raw user input to the gateway's wire format:
// the country prefix followed by exactly nine digits. Non-digits are
// stripped, a local trunk prefix ("0...") is swapped for the country prefix,
// and bare subscriber numbers get the prefix prepended. Pure function.
func NormalizePhone(raw, countryPrefix string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return "", fmt.Errorf("%w: %q has no digits", ErrInvalidPhoneNumber, raw)
	}

	switch {
	case strings.HasPrefix(digits, countryPrefix):
		// already international
	case strings.HasPrefix(digits, "0"):
		digits = countryPrefix + digits[1:]
	default:
		digits = countryPrefix + digits
	}

	if len(digits) != len(countryPrefix)+subscriberDigits {
		return "", fmt.Errorf("%w: %q normalizes to %d digits, want %d",
			ErrInvalidPhoneNumber, raw, len(digits), len(countryPrefix)+subscriberDigits)
	}
	return digits, nil
}
