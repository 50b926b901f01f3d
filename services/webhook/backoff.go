package webhook

import "time"

// backoffSchedule is indexed by the number of attempts already made. Beyond
// the last entry the delay stays clamped at six hours.
var backoffSchedule = []time.Duration{
	10 * time.Second,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
	1 * time.Hour,
	6 * time.Hour,
}

func retryDelay(attempts int) time.Duration {
	if attempts <= 0 {
		return backoffSchedule[0]
	}
	if attempts >= len(backoffSchedule) {
		return backoffSchedule[len(backoffSchedule)-1]
	}
	return backoffSchedule[attempts-1]
}
