// Package calc provides progress arithmetic for byte transfers.
package calc

import (
	"math"
	"time"
)

// Progress calculates the percentage for a given pair of numbers.
func Progress(downloaded, total int64) int {
	if total > 0 {
		return int(math.Round(float64(downloaded) / float64(total) * 100))
	}

	return 0
}

// ETA calculates the estimated time of arrival.
func ETA(downloaded, total int64, started time.Time) time.Duration {
	if total > 0 && downloaded > 0 {
		elapsed := time.Since(started)

		return time.Duration(float64(elapsed) * (float64(total)/float64(downloaded) - 1))
	}

	return 0
}

// Delta returns how many bytes were added since last, never negative.
func Delta(last, current int64) int64 {
	if current > last {
		return current - last
	}

	return 0
}
