package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/personasim/internal/config"
	"github.com/phrazzld/personasim/internal/generation"
	"github.com/phrazzld/personasim/internal/platform/logger"
	"github.com/phrazzld/personasim/internal/redact"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Operation names used in errors, logs and metrics.
const (
	opPersonaDetails = "persona_details"
	opFeedback       = "feedback"
	opThemes         = "themes"
	opBatch          = "persona_batch"
)

// Options configure a Gateway. Zero values fall back to the defaults
// documented on each field.
type Options struct {
	Policy           RetryPolicy
	RequestTimeout   time.Duration // per attempt, default 30s
	MaxResponseBytes int           // default 256 KiB
	Temperature      float32
	DefaultLanguage  string // default "en"

	// RateLimit and RateBurst bound outbound attempts. Zero disables limiting.
	RateLimit float64
	RateBurst int

	// BreakerThreshold consecutive transient failures open the breaker for
	// BreakerTimeout. Zero disables the breaker.
	BreakerThreshold uint32
	BreakerTimeout   time.Duration

	Logger *slog.Logger
}

// Gateway is the single path from the pipeline to an LLM provider. It owns
// retrying, rate limiting, circuit breaking, response normalization and
// prompt rendering, and implements the generation interfaces on top.
type Gateway struct {
	provider Provider
	prompts  *Prompts
	opts     Options
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	logger   *slog.Logger

	// sleep waits between blocking retries; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

var (
	_ generation.PersonaDetailGenerator = (*Gateway)(nil)
	_ generation.FeedbackGenerator      = (*Gateway)(nil)
	_ generation.ThemeGrouper           = (*Gateway)(nil)
)

// NewGateway wraps provider with the resilience policy in opts.
func NewGateway(provider Provider, opts Options) (*Gateway, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: provider cannot be nil", generation.ErrInvalidConfig)
	}
	prompts, err := LoadPrompts()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", generation.ErrInvalidConfig, err)
	}

	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = 256 * 1024
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "en"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	g := &Gateway{
		provider: provider,
		prompts:  prompts,
		opts:     opts,
		logger:   opts.Logger.With(slog.String("component", "llm_gateway"), slog.String("provider", provider.Name())),
		sleep:    sleepContext,
	}

	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	if opts.BreakerThreshold > 0 {
		name := provider.Name()
		threshold := opts.BreakerThreshold
		g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     opts.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			// Only transient upstream trouble should trip the breaker.
			IsSuccessful: func(err error) bool {
				if err == nil {
					return true
				}
				_, retriable := classify(context.Background(), err)
				return !retriable
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				breakerState.WithLabelValues(name).Set(float64(to))
				g.logger.Warn("circuit breaker state changed",
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		})
	}
	return g, nil
}

// New builds the gateway for the provider selected in cfg.
func New(ctx context.Context, cfg config.LLMConfig, log *slog.Logger) (*Gateway, error) {
	pc, err := cfg.Selected()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", generation.ErrInvalidConfig, err)
	}

	// The per-attempt deadline is enforced with contexts; the client timeout
	// is a backstop for stuck connections.
	httpClient := &http.Client{Timeout: cfg.RequestTimeout + 5*time.Second}

	var provider Provider
	switch cfg.Provider {
	case "gemini":
		provider, err = NewGeminiProvider(ctx, pc, httpClient)
	default:
		provider, err = NewOpenAIProvider(cfg.Provider, pc, httpClient)
	}
	if err != nil {
		return nil, err
	}

	return NewGateway(provider, Options{
		Policy: RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  pc.BaseRetryDelay,
			Multiplier: cfg.BackoffMultiplier,
			MaxDelay:   cfg.MaxBackoff,
		},
		RequestTimeout:   cfg.RequestTimeout,
		MaxResponseBytes: cfg.MaxResponseBytes,
		Temperature:      cfg.Temperature,
		DefaultLanguage:  cfg.DefaultLanguage,
		RateLimit:        cfg.RateLimitPerSecond,
		RateBurst:        cfg.RateLimitBurst,
		BreakerThreshold: cfg.BreakerFailureThreshold,
		BreakerTimeout:   cfg.BreakerOpenTimeout,
		Logger:           log,
	})
}

// ProviderName returns the name of the backing provider.
func (g *Gateway) ProviderName() string { return g.provider.Name() }

// Call runs one logical request on the blocking path and returns the
// normalized JSON content. Transient failures are retried according to the
// policy; everything else fails at once. Errors are always *GatewayError.
func (g *Gateway) Call(ctx context.Context, op string, req ChatRequest) (string, error) {
	for retry := 0; ; retry++ {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return "", g.fail(op, 0, true, err)
			}
		}

		raw, err := g.execute(ctx, req)
		st := g.judge(ctx, op, retry, raw, err)
		if !st.again {
			return st.content, st.err
		}

		if err := g.sleep(ctx, st.wait); err != nil {
			return "", g.fail(op, 0, true, err)
		}
	}
}

// step is the verdict on one attempt.
type step struct {
	content string
	err     error
	again   bool
	wait    time.Duration
}

// judge turns the outcome of attempt number retry (0-based) into either a
// final result or a delay before the next attempt.
func (g *Gateway) judge(ctx context.Context, op string, retry int, raw string, err error) step {
	log := logger.FromContextOrDefault(ctx, g.logger)

	if err == nil {
		out, nerr := Normalize(raw, g.opts.MaxResponseBytes)
		if nerr != nil {
			callsTotal.WithLabelValues(g.provider.Name(), op, "invalid").Inc()
			return step{err: g.fail(op, 0, false, nerr)}
		}
		callsTotal.WithLabelValues(g.provider.Name(), op, "ok").Inc()
		return step{content: out}
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		callsTotal.WithLabelValues(g.provider.Name(), op, "circuit_open").Inc()
		return step{err: g.fail(op, 0, true, fmt.Errorf("%w: %v", generation.ErrCircuitOpen, err))}
	}

	status, retriable := classify(ctx, err)
	if !retriable {
		callsTotal.WithLabelValues(g.provider.Name(), op, "permanent").Inc()
		log.Error("llm call failed permanently",
			slog.String("op", op),
			slog.Int("status", status),
			slog.String("error", redact.Error(err)))
		return step{err: g.fail(op, status, false, err)}
	}
	if ctx.Err() != nil {
		callsTotal.WithLabelValues(g.provider.Name(), op, "cancelled").Inc()
		return step{err: g.fail(op, status, true, ctx.Err())}
	}

	delay, ok := g.opts.Policy.NextDelay(retry + 1)
	if !ok {
		callsTotal.WithLabelValues(g.provider.Name(), op, "exhausted").Inc()
		log.Error("llm call retries exhausted",
			slog.String("op", op),
			slog.Int("attempts", retry+1),
			slog.Int("status", status),
			slog.String("error", redact.Error(err)))
		return step{err: g.fail(op, status, true,
			fmt.Errorf("%w: giving up after %d attempts: %v", generation.ErrTransientFailure, retry+1, err))}
	}

	retriesTotal.WithLabelValues(g.provider.Name(), op).Inc()
	log.Warn("transient llm failure, retrying",
		slog.String("op", op),
		slog.Int("attempt", retry+1),
		slog.Int("status", status),
		slog.Duration("delay", delay),
		slog.String("error", redact.Error(err)))
	return step{again: true, wait: delay}
}

// execute performs a single attempt under the breaker and the per-attempt
// timeout.
func (g *Gateway) execute(ctx context.Context, req ChatRequest) (string, error) {
	if req.Temperature == 0 {
		req.Temperature = g.opts.Temperature
	}

	call := func() (interface{}, error) {
		actx, cancel := context.WithTimeout(ctx, g.opts.RequestTimeout)
		defer cancel()

		start := time.Now()
		out, err := g.provider.Complete(actx, req)
		attemptDuration.WithLabelValues(g.provider.Name()).Observe(time.Since(start).Seconds())
		return out, err
	}

	var (
		res interface{}
		err error
	)
	if g.breaker != nil {
		res, err = g.breaker.Execute(call)
	} else {
		res, err = call()
	}
	if err != nil {
		return "", err
	}
	s, _ := res.(string)
	return s, nil
}

func (g *Gateway) fail(op string, status int, retriable bool, err error) *generation.GatewayError {
	return &generation.GatewayError{
		Op:         op,
		Provider:   g.provider.Name(),
		StatusCode: status,
		Retriable:  retriable,
		Err:        err,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
