package network

import "time"

const (
	baseDelay = 250 * time.Millisecond
	maxDelay  = 30 * time.Second
)

// Backoff returns the exponential backoff duration for a retry count,
// baseDelay * 2^retry capped at maxDelay.
func Backoff(retry int) time.Duration {
	if retry < 0 {
		return baseDelay
	}
	if retry > 30 {
		return maxDelay
	}
	d := baseDelay * time.Duration(1<<retry)
	if d > maxDelay {
		return maxDelay
	}
	return d
}
