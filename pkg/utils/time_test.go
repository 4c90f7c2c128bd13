package utils

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want string
	}{
		{"zero", 0, "0s"},
		{"sub-second", 750 * time.Millisecond, "0s"},
		{"seconds", 45 * time.Second, "45s"},
		{"minutes and seconds", 5*time.Minute + 30*time.Second, "5m30s"},
		{"whole minutes", 7 * time.Minute, "7m"},
		{"hours drop seconds", 2*time.Hour + 15*time.Minute + 59*time.Second, "2h15m"},
		{"days", 3*24*time.Hour + 5*time.Hour + 10*time.Minute, "3d5h"},
		{"whole days", 48 * time.Hour, "2d"},
		{"negative", -90 * time.Second, "1m30s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatDuration(tt.in); got != tt.want {
				t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
