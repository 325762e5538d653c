package usecase

import "time"

// Bounds on a believable funding-settlement delta. Anything outside is noise:
// a reconnect replaying a stale timestamp, or a gap spanning several missed
// settlements.
const (
	minIntervalDelta = 30 * time.Minute
	maxIntervalDelta = 24 * time.Hour
)

// InferHours derives a funding interval from two successive next-settlement
// timestamps (ms). Returns false unless both are present, the delta is
// strictly positive and the delta lies within [30m, 24h].
func InferHours(prevNextMs, newNextMs int64) (float64, bool) {
	if prevNextMs <= 0 || newNextMs <= 0 {
		return 0, false
	}
	delta := time.Duration(newNextMs-prevNextMs) * time.Millisecond
	if delta <= 0 || delta < minIntervalDelta || delta > maxIntervalDelta {
		return 0, false
	}
	return delta.Hours(), true
}

// ExactHours derives the interval from a settlement/next-settlement pair
// carried in a single payload. Preferred over delta inference when available
// and consistent (next strictly after settlement, within the same bounds).
func ExactHours(fundingMs, nextFundingMs int64) (float64, bool) {
	if fundingMs <= 0 || nextFundingMs <= 0 {
		return 0, false
	}
	delta := time.Duration(nextFundingMs-fundingMs) * time.Millisecond
	if delta <= 0 || delta < minIntervalDelta || delta > maxIntervalDelta {
		return 0, false
	}
	return delta.Hours(), true
}
