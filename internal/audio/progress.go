package audio

import "time"

const (
	// CharsPerSecond is the observed average synthesis throughput used for
	// duration estimates.
	CharsPerSecond = 50
	// OverheadMS covers fixed per-job cost (queueing, assembly, storage).
	OverheadMS = 3000

	// DefaultPollIntervalMS is recommended when no ETA is known.
	DefaultPollIntervalMS = 3000
)

// EstimateDurationMS predicts how long synthesizing contentLength characters
// will take, in milliseconds.
func EstimateDurationMS(contentLength int) int64 {
	return int64(contentLength)*1000/CharsPerSecond + OverheadMS
}

// ProgressPercent computes completion from chunk counters. Jobs with a single
// chunk carry an explicitly stored percent instead.
func ProgressPercent(totalChunks, completedChunks, storedPercent int) int {
	if totalChunks > 1 {
		return completedChunks * 100 / totalChunks
	}
	return storedPercent
}

// ETASeconds returns the remaining time until the job is expected to finish.
// The second return is false when processing has not started yet.
func ETASeconds(estimatedMS int64, startedAt *time.Time, now time.Time) (float64, bool) {
	if startedAt == nil {
		return 0, false
	}

	elapsedMS := now.Sub(*startedAt).Milliseconds()
	remaining := estimatedMS - elapsedMS
	if remaining < 0 {
		remaining = 0
	}
	return float64(remaining) / 1000, true
}

// PollIntervalMS recommends how often a client should poll given the ETA.
func PollIntervalMS(etaSeconds float64, known bool) int {
	if !known {
		return DefaultPollIntervalMS
	}

	switch {
	case etaSeconds < 5:
		return 1000
	case etaSeconds < 30:
		return 2000
	case etaSeconds < 60:
		return 3000
	default:
		return 5000
	}
}
