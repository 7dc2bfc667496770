// Package scheduler implements the LifeSync scheduled-task runner: the
// interval calculator, the task dispatcher, the typed handler registry, and
// the schedule/inspect service the API layer exposes.
package scheduler

import (
	"strconv"

	"lifesync/internal/types"
)

// unitMillis maps an interval unit letter to its fixed duration in
// milliseconds. Days and weeks are exact multiples of 24h; there is no
// timezone or calendar-month awareness. This is a deliberate, documented
// simplification: "1d" fires every 86,400,000 ms even across DST changes.
var unitMillis = map[byte]int64{
	's': 1_000,
	'm': 60_000,
	'h': 3_600_000,
	'd': 86_400_000,
	'w': 604_800_000,
}

// ParseInterval validates an interval specification of the form
// "<integer><unit>" (unit s/m/h/d/w) and returns its length in milliseconds.
// The integer must be positive. Any other format fails with
// ErrCodeValidationInvalidInterval.
func ParseInterval(interval string) (int64, error) {
	if len(interval) < 2 {
		return 0, types.NewInvalidIntervalError(interval)
	}

	unit, ok := unitMillis[interval[len(interval)-1]]
	if !ok {
		return 0, types.NewInvalidIntervalError(interval)
	}

	value, err := strconv.ParseInt(interval[:len(interval)-1], 10, 64)
	if err != nil || value <= 0 {
		return 0, types.NewInvalidIntervalError(interval)
	}

	return value * unit, nil
}

// ComputeNextRun returns lastRun (epoch millis) advanced by one interval.
// Malformed intervals propagate to the caller; validation belongs at
// schedule time, never at run-time silently-skip time.
func ComputeNextRun(lastRun int64, interval string) (int64, error) {
	step, err := ParseInterval(interval)
	if err != nil {
		return 0, err
	}
	return lastRun + step, nil
}
