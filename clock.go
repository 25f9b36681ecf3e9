package reactorcore

import "time"

// processEpoch anchors nowNanos so deadline arithmetic stays in a plain
// int64 (CAS-friendly, unlike time.Time) without caring about wall-clock
// adjustments.
var processEpoch = time.Now()

func nowNanos() int64 {
	return time.Since(processEpoch).Nanoseconds()
}
