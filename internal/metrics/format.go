package metrics

import (
	"fmt"
	"time"
)

// FormatDelay renders d with two decimals in the largest unit that keeps the
// magnitude readable: minutes below an hour, hours below a day, days otherwise.
// Negative durations always render as minutes.
func FormatDelay(d time.Duration) string {
	minutes := float64(d) / float64(time.Minute)
	if minutes < 60 {
		return fmt.Sprintf("%.2fm", minutes)
	}
	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%.2fh", hours)
	}
	return fmt.Sprintf("%.2fd", hours/24)
}
