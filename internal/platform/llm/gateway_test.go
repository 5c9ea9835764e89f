package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/phrazzld/personasim/internal/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayCallRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{responses: []fakeResponse{
		{err: status(503)},
		{err: status(429)},
		{content: "```json\n{\"ok\":true}\n```"},
	}}
	g, slept := newTestGateway(t, p, Options{})

	out, err := g.Call(context.Background(), "test", ChatRequest{System: "s", User: "u"})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
	assert.Equal(t, 3, p.calls())
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, *slept)
}

func TestGatewayCallExhaustsRetries(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{responses: []fakeResponse{{err: status(503)}}}
	g, slept := newTestGateway(t, p, Options{})

	_, err := g.Call(context.Background(), "test", ChatRequest{})
	require.Error(t, err)

	var gwErr *generation.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.True(t, gwErr.Retriable)
	assert.Equal(t, 503, gwErr.StatusCode)
	assert.ErrorIs(t, err, generation.ErrTransientFailure)

	assert.Equal(t, 4, p.calls(), "one initial attempt plus three retries")
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}, *slept)
}

func TestGatewayCallPermanentFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		resp   fakeResponse
		status int
		is     error
	}{
		{name: "bad request", resp: fakeResponse{err: status(400)}, status: 400},
		{name: "unauthorized", resp: fakeResponse{err: status(401)}, status: 401},
		{name: "internal error is not retried", resp: fakeResponse{err: status(500)}, status: 500},
		{name: "malformed payload", resp: fakeResponse{content: "I cannot help with that"}, is: generation.ErrInvalidResponse},
		{name: "content blocked", resp: fakeResponse{err: generation.ErrContentBlocked}, is: generation.ErrContentBlocked},
		{name: "unknown error", resp: fakeResponse{err: errors.New("boom")}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := &fakeProvider{responses: []fakeResponse{tc.resp}}
			g, slept := newTestGateway(t, p, Options{})

			_, err := g.Call(context.Background(), "test", ChatRequest{})

			var gwErr *generation.GatewayError
			require.ErrorAs(t, err, &gwErr)
			assert.False(t, gwErr.Retriable)
			assert.False(t, generation.IsRetriable(err))
			assert.Equal(t, tc.status, gwErr.StatusCode)
			if tc.is != nil {
				assert.ErrorIs(t, err, tc.is)
			}
			assert.Equal(t, 1, p.calls())
			assert.Empty(t, *slept)
		})
	}
}

func TestGatewayCallAttemptTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{block: true}
	g, _ := newTestGateway(t, p, Options{
		Policy:         RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, Multiplier: 2},
		RequestTimeout: 20 * time.Millisecond,
	})

	_, err := g.Call(context.Background(), "test", ChatRequest{})
	require.Error(t, err)
	assert.True(t, generation.IsRetriable(err))
	assert.Equal(t, 2, p.calls())
}

func TestGatewayCallResponseTooLarge(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{responses: []fakeResponse{{content: `{"bio":"` + string(make([]byte, 64)) + `"}`}}}
	g, _ := newTestGateway(t, p, Options{MaxResponseBytes: 32})

	_, err := g.Call(context.Background(), "test", ChatRequest{})
	assert.ErrorIs(t, err, generation.ErrResponseTooLarge)
	assert.False(t, generation.IsRetriable(err))
}

func TestGatewayCircuitBreakerOpens(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{responses: []fakeResponse{{err: status(503)}}}
	g, _ := newTestGateway(t, p, Options{
		Policy:           RetryPolicy{BaseDelay: time.Millisecond},
		BreakerThreshold: 2,
		BreakerTimeout:   time.Hour,
	})

	for i := 0; i < 2; i++ {
		_, err := g.Call(context.Background(), "test", ChatRequest{})
		assert.ErrorIs(t, err, generation.ErrTransientFailure)
	}

	_, err := g.Call(context.Background(), "test", ChatRequest{})
	assert.ErrorIs(t, err, generation.ErrCircuitOpen)
	assert.True(t, generation.IsRetriable(err))
	assert.Equal(t, 2, p.calls(), "open breaker must not reach the provider")
}

func TestGatewayBreakerIgnoresPermanentErrors(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{responses: []fakeResponse{{err: status(400)}}}
	g, _ := newTestGateway(t, p, Options{BreakerThreshold: 1, BreakerTimeout: time.Hour})

	for i := 0; i < 3; i++ {
		_, err := g.Call(context.Background(), "test", ChatRequest{})
		assert.NotErrorIs(t, err, generation.ErrCircuitOpen)
	}
	assert.Equal(t, 3, p.calls())
}

func TestGatewayCallCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{responses: []fakeResponse{{err: status(503)}}}
	g, err := NewGateway(p, Options{Policy: RetryPolicy{MaxRetries: 3, BaseDelay: time.Hour, Multiplier: 2}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err = g.Call(ctx, "test", ChatRequest{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, generation.IsRetriable(err))
}

func TestGatewayCallAsync(t *testing.T) {
	t.Parallel()

	t.Run("retries on timers", func(t *testing.T) {
		p := &fakeProvider{responses: []fakeResponse{
			{err: status(502)},
			{err: status(504)},
			{content: `{"ok":1}`},
		}}
		g, slept := newTestGateway(t, p, Options{
			Policy: RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, Multiplier: 2},
		})

		res := waitResult(t, g.CallAsync(context.Background(), "test", ChatRequest{}))
		require.NoError(t, res.Err)
		assert.Equal(t, `{"ok":1}`, res.Content)
		assert.Equal(t, 3, p.calls())
		assert.Empty(t, *slept, "the async path never uses the blocking sleep")
	})

	t.Run("same exhaustion semantics", func(t *testing.T) {
		p := &fakeProvider{responses: []fakeResponse{{err: status(429)}}}
		g, _ := newTestGateway(t, p, Options{
			Policy: RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, Multiplier: 2},
		})

		res := waitResult(t, g.CallAsync(context.Background(), "test", ChatRequest{}))
		assert.ErrorIs(t, res.Err, generation.ErrTransientFailure)
		assert.True(t, generation.IsRetriable(res.Err))
		assert.Equal(t, 3, p.calls())
	})

	t.Run("permanent failure delivered once", func(t *testing.T) {
		p := &fakeProvider{responses: []fakeResponse{{err: status(403)}}}
		g, _ := newTestGateway(t, p, Options{})

		ch := g.CallAsync(context.Background(), "test", ChatRequest{})
		res := waitResult(t, ch)
		assert.False(t, generation.IsRetriable(res.Err))
		_, open := <-ch
		assert.False(t, open)
	})

	t.Run("cancellation stops a pending retry", func(t *testing.T) {
		p := &fakeProvider{responses: []fakeResponse{{err: status(503)}}}
		g, _ := newTestGateway(t, p, Options{
			Policy: RetryPolicy{MaxRetries: 3, BaseDelay: time.Hour, Multiplier: 2},
		})

		ctx, cancel := context.WithCancel(context.Background())
		ch := g.CallAsync(ctx, "test", ChatRequest{})
		require.Eventually(t, func() bool { return p.calls() == 1 }, time.Second, time.Millisecond)
		cancel()

		res := waitResult(t, ch)
		assert.ErrorIs(t, res.Err, context.Canceled)
		assert.Equal(t, 1, p.calls())
	})
}

func waitResult(t *testing.T, ch <-chan CallResult) CallResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for async result")
		return CallResult{}
	}
}
