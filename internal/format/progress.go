package format

import (
	"fmt"
	"strings"
	"time"
)

// maxETA caps estimates made from very little progress.
const maxETA = 24 * time.Hour

// EstimateETA extrapolates the remaining time linearly from the fraction
// done after elapsed. It returns 0 until some progress has been made.
func EstimateETA(fraction float64, elapsed time.Duration) time.Duration {
	if fraction <= 0 || elapsed <= 0 {
		return 0
	}
	if fraction >= 1 {
		return 0
	}
	remaining := float64(elapsed) * (1 - fraction) / fraction
	if remaining >= float64(maxETA) {
		return maxETA
	}
	return time.Duration(remaining)
}

// ProgressBar renders fraction, clamped to [0, 1], as a bar of length
// cells.
func ProgressBar(fraction float64, length int) string {
	fraction = max(0, min(fraction, 1))
	count := int(fraction * float64(length))
	var b strings.Builder
	b.Grow(length * 3)
	for i := range length {
		if i < count {
			b.WriteRune('█')
		} else {
			b.WriteRune('░')
		}
	}
	return b.String()
}

// FormatProgressLine renders "[bar] 50.0% 8/16 chunks ETA: 30s".
func FormatProgressLine(completed, total int, eta time.Duration, width int) string {
	var fraction float64
	if total > 0 {
		fraction = float64(completed) / float64(total)
	}
	return fmt.Sprintf("[%s] %5.1f%% %d/%d chunks ETA: %s",
		ProgressBar(fraction, width), fraction*100, completed, total, FormatETA(eta))
}
