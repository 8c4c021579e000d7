package security

import "time"

const (
	// DefaultClockSkewGracePeriod is the default grace period for token
	// expiration checks. It prevents false expiration errors due to time
	// synchronization drift between systems. 5 seconds handles typical NTP
	// drift; high-security deployments can reduce or disable it.
	DefaultClockSkewGracePeriod = 5 * time.Second
)

// IsExpired checks if the expiry is past with the default clock skew grace period.
// A zero expiresAt means no expiration.
func IsExpired(expiresAt time.Time) bool {
	return IsExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsExpiredWithGracePeriod checks if the expiry is past with a custom grace period
func IsExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().After(expiresAt.Add(gracePeriod))
}

// TicketExpired checks a capability ticket's expiry with no grace period.
// Challenge tickets are short-lived single-use capabilities, so the skew
// allowance applied to tokens does not apply to them.
func TicketExpired(expiresAt time.Time) bool {
	return !expiresAt.IsZero() && time.Now().After(expiresAt)
}
