// Package format renders times, offsets and countdowns for notifications and CLI output.
package format

import (
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"
)

// Countdown renders seconds as MM:SS. Negative values render as 00:00.
func Countdown(seconds int64) string {
	if seconds < 0 {
		return "00:00"
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// Clock renders t as HH:MM:SS, or HH:MM when withSeconds is false.
func Clock(t time.Time, withSeconds bool) string {
	if withSeconds {
		return t.Format("15:04:05")
	}
	return t.Format("15:04")
}

// DateTime renders t as YYYY-MM-DD HH:MM:SS.
func DateTime(t time.Time) string { return t.Format("2006-01-02 15:04:05") }

// Offset renders a signed clock offset in seconds, e.g. "+1.5s".
func Offset(seconds float64) string {
	sign := ""
	if seconds >= 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.1fs", sign, seconds)
}

// Percent renders a rounded percentage.
func Percent(p float64) string { return fmt.Sprintf("%d%%", int(math.Round(p))) }

// NodeTime renders the wall-clock time of a node at offset minutes from start.
func NodeTime(offset float64, start time.Time) string {
	return Clock(start.Add(time.Duration(offset*float64(time.Minute))), false)
}

// NodeTimeRange renders the node time with its position relative to start.
func NodeTimeRange(offset float64, start time.Time) string {
	at := NodeTime(offset, start)
	switch {
	case offset < 0:
		return fmt.Sprintf("%s (%s min before start)", at, trimFloat(-offset))
	case offset == 0:
		return fmt.Sprintf("%s (start)", at)
	default:
		return fmt.Sprintf("%s (%s min after start)", at, trimFloat(offset))
	}
}

// Duration renders seconds as "45s", "5 min" or "5 min 30s".
func Duration(seconds int64) string {
	if seconds < 0 {
		return "0s"
	}
	mins, secs := seconds/60, seconds%60
	switch {
	case mins == 0:
		return fmt.Sprintf("%ds", secs)
	case secs == 0:
		return fmt.Sprintf("%d min", mins)
	default:
		return fmt.Sprintf("%d min %ds", mins, secs)
	}
}

// Relative renders t relative to now ("just now", "5 minutes ago").
func Relative(t, now time.Time) string {
	if d := now.Sub(t); d >= 0 && d < time.Minute {
		return "just now"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func trimFloat(f float64) string {
	if f == math.Trunc(f) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
