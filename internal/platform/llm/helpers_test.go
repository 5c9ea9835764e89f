package llm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/personasim/internal/platform/logger"
	"github.com/stretchr/testify/require"
)

type fakeResponse struct {
	content string
	err     error
}

// fakeProvider replays scripted responses; the last one repeats.
type fakeProvider struct {
	mu        sync.Mutex
	responses []fakeResponse
	requests  []ChatRequest
	block     bool
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, req ChatRequest) (string, error) {
	f.mu.Lock()
	i := len(f.requests)
	f.requests = append(f.requests, req)
	block := f.block
	var r fakeResponse
	if len(f.responses) > 0 {
		r = f.responses[min(i, len(f.responses)-1)]
	}
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return r.content, r.err
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeProvider) request(i int) ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

func defaultPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 500 * time.Millisecond, Multiplier: 2, MaxDelay: 8 * time.Second}
}

// newTestGateway builds a gateway whose blocking sleeps are recorded rather
// than waited out.
func newTestGateway(t *testing.T, p Provider, opts Options) (*Gateway, *[]time.Duration) {
	t.Helper()
	if opts.Policy == (RetryPolicy{}) {
		opts.Policy = defaultPolicy()
	}
	opts.Logger = logger.Discard()

	g, err := NewGateway(p, opts)
	require.NoError(t, err)

	var mu sync.Mutex
	slept := &[]time.Duration{}
	g.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		*slept = append(*slept, d)
		mu.Unlock()
		return ctx.Err()
	}
	return g, slept
}

func status(code int) error {
	return &StatusError{Provider: "fake", StatusCode: code, Message: "scripted"}
}
