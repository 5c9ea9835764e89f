package llm

import (
	"math"
	"time"
)

// RetryPolicy describes capped exponential backoff.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

// NextDelay returns how long to wait before retry number retry (1-based).
// The boolean is false once retries are exhausted. The function is pure so
// the blocking and non-blocking call paths share one definition.
//
// With MaxRetries=3, BaseDelay=500ms, Multiplier=2 and MaxDelay=8s the
// delays are 500ms, 1s and 2s, and a fourth retry is refused.
func (p RetryPolicy) NextDelay(retry int) (time.Duration, bool) {
	if retry < 1 || retry > p.MaxRetries {
		return 0, false
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(retry-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay, true
	}
	return time.Duration(d), true
}
