package format

import (
	"strings"
	"testing"
	"time"
)

func TestFormatExecutionDuration(t *testing.T) {
	t.Parallel()
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Microsecond, "500µs"},
		{250 * time.Millisecond, "250ms"},
		{1500 * time.Millisecond, "1.5s"},
	}
	for _, tt := range tests {
		if got := FormatExecutionDuration(tt.d); got != tt.want {
			t.Errorf("FormatExecutionDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatSeconds(t *testing.T) {
	t.Parallel()
	if got := FormatSeconds(1.235); got != "1.235s" {
		t.Errorf("FormatSeconds(1.235) = %q", got)
	}
	if got := FormatSeconds(0.042); got != "42ms" {
		t.Errorf("FormatSeconds(0.042) = %q", got)
	}
}

func TestFormatETA(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		eta      time.Duration
		expected string
	}{
		{"Zero duration", 0, "calculating..."},
		{"Negative duration", -time.Second, "calculating..."},
		{"Less than a second", 500 * time.Millisecond, "< 1s"},
		{"One second", time.Second, "1s"},
		{"Multiple seconds", 45 * time.Second, "45s"},
		{"One minute", time.Minute, "1m"},
		{"Minutes and seconds", 2*time.Minute + 30*time.Second, "2m30s"},
		{"One hour", time.Hour, "1h"},
		{"Hours and minutes", time.Hour + 15*time.Minute, "1h15m"},
		{"Hours only (no minutes)", 2 * time.Hour, "2h"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := FormatETA(tc.eta); got != tc.expected {
				t.Errorf("FormatETA(%v) = %q, want %q", tc.eta, got, tc.expected)
			}
		})
	}
}

func TestEstimateETA(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		fraction float64
		elapsed  time.Duration
		want     time.Duration
	}{
		{"no progress", 0, 10 * time.Second, 0},
		{"half done", 0.5, 10 * time.Second, 10 * time.Second},
		{"quarter done", 0.25, 10 * time.Second, 30 * time.Second},
		{"done", 1, 10 * time.Second, 0},
		{"capped", 1e-9, time.Hour, maxETA},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := EstimateETA(tt.fraction, tt.elapsed); got != tt.want {
				t.Errorf("EstimateETA(%v, %v) = %v, want %v", tt.fraction, tt.elapsed, got, tt.want)
			}
		})
	}
}

func TestProgressBar(t *testing.T) {
	t.Parallel()
	tests := []struct {
		progress float64
		length   int
		expected string
	}{
		{0.0, 10, "░░░░░░░░░░"},
		{0.5, 10, "█████░░░░░"},
		{1.0, 10, "██████████"},
		{1.2, 10, "██████████"},
		{-0.1, 10, "░░░░░░░░░░"},
	}
	for _, tt := range tests {
		if got := ProgressBar(tt.progress, tt.length); got != tt.expected {
			t.Errorf("ProgressBar(%f, %d) = %s; want %s", tt.progress, tt.length, got, tt.expected)
		}
	}
}

func TestFormatProgressLine(t *testing.T) {
	t.Parallel()
	got := FormatProgressLine(8, 16, 30*time.Second, 10)
	for _, want := range []string{"[", "]", " 50.0%", "8/16 chunks", "ETA: 30s"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatProgressLine() = %q, missing %q", got, want)
		}
	}
	if got := FormatProgressLine(0, 0, 0, 4); !strings.Contains(got, "0/0") {
		t.Errorf("zero total: %q", got)
	}
}

func TestFormatNumber(t *testing.T) {
	t.Parallel()
	tests := []struct {
		n    uint64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{17984, "17,984"},
		{664579, "664,579"},
		{50847534, "50,847,534"},
	}
	for _, tt := range tests {
		if got := FormatNumber(tt.n); got != tt.want {
			t.Errorf("FormatNumber(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
