package llm

import (
	"context"
	"sync"
	"time"
)

// CallResult is delivered by CallAsync.
type CallResult struct {
	Content string
	Err     error
}

// CallAsync is the non-blocking counterpart of Call. It returns at once and
// delivers exactly one CallResult on the returned channel. Backoff and rate
// limit waits are scheduled with timers, so no goroutine is parked while a
// retry is pending. Cancelling ctx stops pending retries.
func (g *Gateway) CallAsync(ctx context.Context, op string, req ChatRequest) <-chan CallResult {
	c := &asyncCall{
		g:   g,
		ctx: ctx,
		op:  op,
		req: req,
		out: make(chan CallResult, 1),
	}
	go c.attempt(0)
	return c.out
}

type asyncCall struct {
	g   *Gateway
	ctx context.Context
	op  string
	req ChatRequest
	out chan CallResult

	once sync.Once
}

func (c *asyncCall) deliver(r CallResult) {
	c.once.Do(func() {
		c.out <- r
		close(c.out)
	})
}

// attempt runs attempt number retry (0-based), first honouring the rate
// limiter through a reservation.
func (c *asyncCall) attempt(retry int) {
	if err := c.ctx.Err(); err != nil {
		c.deliver(CallResult{Err: c.g.fail(c.op, 0, true, err)})
		return
	}

	if c.g.limiter != nil {
		r := c.g.limiter.Reserve()
		if !r.OK() {
			c.deliver(CallResult{Err: c.g.fail(c.op, 0, true, context.DeadlineExceeded)})
			return
		}
		if d := r.Delay(); d > 0 {
			c.schedule(d, func() { c.execute(retry) }, r.Cancel)
			return
		}
	}
	c.execute(retry)
}

func (c *asyncCall) execute(retry int) {
	raw, err := c.g.execute(c.ctx, c.req)
	st := c.g.judge(c.ctx, c.op, retry, raw, err)
	if !st.again {
		c.deliver(CallResult{Content: st.content, Err: st.err})
		return
	}
	c.schedule(st.wait, func() { c.attempt(retry + 1) }, nil)
}

// schedule runs fn after d unless ctx is cancelled first, in which case
// onCancel (if any) runs and the cancellation is delivered.
func (c *asyncCall) schedule(d time.Duration, fn func(), onCancel func()) {
	var (
		mu    sync.Mutex
		timer *time.Timer
		stop  func() bool
	)

	mu.Lock()
	defer mu.Unlock()

	timer = time.AfterFunc(d, func() {
		mu.Lock()
		s := stop
		mu.Unlock()
		// If the cancellation callback already started, its timer.Stop
		// failed and it delivered nothing; fn observes the cancelled context.
		s()
		fn()
	})
	stop = context.AfterFunc(c.ctx, func() {
		if timer.Stop() {
			if onCancel != nil {
				onCancel()
			}
			c.deliver(CallResult{Err: c.g.fail(c.op, 0, true, c.ctx.Err())})
		}
	})
}
