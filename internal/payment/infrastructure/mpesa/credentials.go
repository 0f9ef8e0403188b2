package mpesa

import (
	"encoding/base64"
	"errors"
	"time"
)

// TimestampLayout is the gateway's fixed timestamp pattern (YYYYMMDDhhmmss).
const TimestampLayout = "20060102150405"

var ErrMissingCredentials = errors.New("mpesa: short code, passkey, consumer key and consumer secret are all required")

// Credentials holds the static gateway configuration plus the derived,
// time-dependent request fields. TestMode short-circuits the client to
// deterministic synthetic responses in place of network I/O.
type Credentials struct {
	ShortCode      string
	Passkey        string
	ConsumerKey    string
	ConsumerSecret string
	CallbackURL    string
	AuthURL        string
	STKPushURL     string
	TestMode       bool
}

func (c Credentials) Validate() error {
	if c.ShortCode == "" || c.Passkey == "" || c.ConsumerKey == "" || c.ConsumerSecret == "" {
		return ErrMissingCredentials
	}
	return nil
}

// Password derives the signed request password for the given instant:
// base64(shortCode + passkey + timestamp). The protocol mandates this plain
// reversible encoding; it is a transport framing, not a security primitive.
func (c Credentials) Password(at time.Time) (password, timestamp string) {
	timestamp = at.UTC().Format(TimestampLayout)
	password = base64.StdEncoding.EncodeToString([]byte(c.ShortCode + c.Passkey + timestamp))
	return password, timestamp
}
