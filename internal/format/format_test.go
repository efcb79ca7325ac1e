package format

import (
	"testing"
	"time"
)

func TestCountdown(t *testing.T) {
	cases := map[int64]string{-5: "00:00", 0: "00:00", 59: "00:59", 61: "01:01", 3600: "60:00"}
	for in, want := range cases {
		if got := Countdown(in); got != want {
			t.Fatalf("Countdown(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestOffset(t *testing.T) {
	if got := Offset(1.54); got != "+1.5s" {
		t.Fatalf("got %q", got)
	}
	if got := Offset(-42); got != "-42.0s" {
		t.Fatalf("got %q", got)
	}
}

func TestNodeTimeRange(t *testing.T) {
	start := time.Date(2025, 6, 7, 9, 0, 0, 0, time.UTC)
	if got := NodeTimeRange(-30, start); got != "08:30 (30 min before start)" {
		t.Fatalf("got %q", got)
	}
	if got := NodeTimeRange(0, start); got != "09:00 (start)" {
		t.Fatalf("got %q", got)
	}
	if got := NodeTimeRange(110, start); got != "10:50 (110 min after start)" {
		t.Fatalf("got %q", got)
	}
}

func TestDuration(t *testing.T) {
	cases := map[int64]string{-1: "0s", 45: "45s", 300: "5 min", 330: "5 min 30s"}
	for in, want := range cases {
		if got := Duration(in); got != want {
			t.Fatalf("Duration(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestRelative(t *testing.T) {
	now := time.Date(2025, 6, 7, 9, 0, 0, 0, time.UTC)
	if got := Relative(now.Add(-10*time.Second), now); got != "just now" {
		t.Fatalf("got %q", got)
	}
	if got := Relative(now.Add(-5*time.Minute), now); got != "5 minutes ago" {
		t.Fatalf("got %q", got)
	}
}

func TestPercent(t *testing.T) {
	if got := Percent(33.333); got != "33%" {
		t.Fatalf("got %q", got)
	}
}
