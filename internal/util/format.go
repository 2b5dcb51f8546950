package util //nolint:revive // package name util hosts shared formatting helpers used across HTTP templates

import (
	"fmt"
	"time"
)

// FormatRemaining renders the time left until expiresAt, measured from now,
// at minute precision. Returns "—" for an unknown expiry and "expired" once it
// has passed.
func FormatRemaining(expiresAt, now time.Time) string {
	if expiresAt.IsZero() {
		return "—"
	}
	d := expiresAt.Sub(now)
	switch {
	case d <= 0:
		return "expired"
	case d < time.Minute:
		return "less than a minute"
	}

	d = d.Truncate(time.Minute)
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	switch {
	case hours == 0:
		return fmt.Sprintf("%dm", minutes)
	case minutes == 0:
		return fmt.Sprintf("%dh", hours)
	default:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
}
