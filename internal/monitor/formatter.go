package monitor

import (
	"fmt"
	"time"
)

// FormatRate formats a rate value as "X.X items/min"
func FormatRate(rate float64) string {
	return fmt.Sprintf("%.1f items/min", rate)
}

// FormatPercentage formats a ratio (0-1) as percentage
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// FormatDuration formats d as "Xh Ym", "Xm" or "Xs".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	hours := int64(d.Hours())
	minutes := int64(d.Minutes()) % 60
	switch {
	case hours >= 24:
		return fmt.Sprintf("%dd %dh", hours/24, hours%24)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%ds", int64(d.Seconds()))
}

// FormatDue describes when a reminder fires relative to now.
func FormatDue(now, at time.Time) string {
	if at.After(now) {
		return "in " + FormatDuration(at.Sub(now))
	}
	return FormatDuration(now.Sub(at)) + " overdue"
}
