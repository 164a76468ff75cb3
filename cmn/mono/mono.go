// Package mono gives background loops a monotonic clock independent of
// wall-clock adjustments, the way quiescence/backoff timers need.
package mono

import "time"

var start = time.Now()

// NanoTime returns nanoseconds since process start on the monotonic clock.
func NanoTime() int64 { return time.Since(start).Nanoseconds() }

// Since returns the monotonic duration elapsed since a NanoTime() reading.
func Since(t int64) time.Duration { return time.Duration(NanoTime() - t) }
