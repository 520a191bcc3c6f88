package host

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrDurationRange is returned for durations time.Duration cannot hold.
var ErrDurationRange = errors.New("duration out of range")

// maxSeconds is the largest whole number of seconds a time.Duration holds.
const maxSeconds = math.MaxInt64 / int64(time.Second)

// DurationFromSeconds converts a seconds count from JSON or Lua. NaN,
// infinities and magnitudes beyond time.Duration fail; the sign is kept so
// callers can report negative durations themselves.
func DurationFromSeconds(secs float64) (time.Duration, error) {
	if math.IsNaN(secs) || math.Abs(secs) > float64(maxSeconds) {
		return 0, fmt.Errorf("%v seconds: %w", secs, ErrDurationRange)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
