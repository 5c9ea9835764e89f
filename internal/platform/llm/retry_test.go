package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyNextDelay(t *testing.T) {
	t.Parallel()

	p := defaultPolicy()
	var delays []time.Duration
	for retry := 1; ; retry++ {
		d, ok := p.NextDelay(retry)
		if !ok {
			break
		}
		delays = append(delays, d)
	}
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}, delays)

	_, ok := p.NextDelay(4)
	assert.False(t, ok, "no fourth retry")
	_, ok = p.NextDelay(0)
	assert.False(t, ok)
}

func TestRetryPolicyCap(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxRetries: 6, BaseDelay: 3 * time.Second, Multiplier: 2, MaxDelay: 8 * time.Second}
	want := []time.Duration{3 * time.Second, 6 * time.Second, 8 * time.Second, 8 * time.Second}
	for i, w := range want {
		d, ok := p.NextDelay(i + 1)
		assert.True(t, ok)
		assert.Equal(t, w, d, "retry %d", i+1)
	}

	flat := RetryPolicy{MaxRetries: 2, BaseDelay: time.Second, Multiplier: 0}
	d, _ := flat.NextDelay(2)
	assert.Equal(t, time.Second, d)
}

func TestRetriableStatus(t *testing.T) {
	t.Parallel()

	for _, code := range []int{429, 502, 503, 504} {
		assert.True(t, retriableStatus(code), "%d", code)
	}
	for _, code := range []int{400, 401, 403, 404, 422, 500} {
		assert.False(t, retriableStatus(code), "%d", code)
	}
}
