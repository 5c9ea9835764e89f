package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/phrazzld/personasim/internal/generation"
	"github.com/phrazzld/personasim/internal/platform/logger"
)

// Batch strategy names accepted by NewBatchGenerator.
const (
	BatchStrategyParallel = "parallel"
	BatchStrategyArray    = "array"
)

// MaxBatchSize bounds a single batch request.
const MaxBatchSize = 50

// arrayAttempts is how many times the array strategy asks again after a
// response fails validation.
const arrayAttempts = 5

// NewBatchGenerator returns the batch strategy named by strategy.
func NewBatchGenerator(strategy string, gw *Gateway, concurrency int) (generation.BatchGenerator, error) {
	switch strategy {
	case BatchStrategyParallel:
		if concurrency < 1 {
			concurrency = 1
		}
		return &ParallelBatchGenerator{gw: gw, concurrency: concurrency, anchors: pickAnchors}, nil
	case BatchStrategyArray:
		return &ArrayBatchGenerator{gw: gw}, nil
	default:
		return nil, fmt.Errorf("%w: unknown batch strategy %q", generation.ErrInvalidConfig, strategy)
	}
}

func checkBatchRequest(audience generation.Audience, count int) error {
	if count < 1 || count > MaxBatchSize {
		return fmt.Errorf("%w: batch size must be between 1 and %d", generation.ErrInvalidConfig, MaxBatchSize)
	}
	if audience.AgeMin != 0 && audience.AgeMax != 0 && audience.AgeMax < audience.AgeMin {
		return fmt.Errorf("%w: ageMax below ageMin", generation.ErrInvalidConfig)
	}
	return nil
}

// ParallelBatchGenerator issues one call per persona, each anchored to a
// distinct identity so the model cannot repeat itself. Calls run through the
// non-blocking path and are retried independently.
type ParallelBatchGenerator struct {
	gw          *Gateway
	concurrency int
	anchors     func(n int) []string
}

type anchorPrompt struct {
	Anchor   string
	Audience string
}

// GenerateBatch implements generation.BatchGenerator.
func (b *ParallelBatchGenerator) GenerateBatch(
	ctx context.Context,
	audience generation.Audience,
	count int,
) ([]generation.PersonaSeed, error) {
	if err := checkBatchRequest(audience, count); err != nil {
		return nil, b.gw.fail(opBatch, 0, false, err)
	}
	audienceJSON, err := json.Marshal(audience)
	if err != nil {
		return nil, b.gw.fail(opBatch, 0, false, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	anchors := b.anchors(count)
	seeds := make([]generation.PersonaSeed, 0, count)
	for start := 0; start < count; start += b.concurrency {
		end := min(start+b.concurrency, count)

		pending := make([]<-chan CallResult, 0, end-start)
		for _, anchor := range anchors[start:end] {
			chat, err := b.gw.prompts.Render(promptBatchAnchor, anchorPrompt{Anchor: anchor, Audience: string(audienceJSON)})
			if err != nil {
				return nil, b.gw.fail(opBatch, 0, false, err)
			}
			pending = append(pending, b.gw.CallAsync(ctx, opBatch, chat))
		}

		for i, ch := range pending {
			res := <-ch
			if res.Err != nil {
				return nil, res.Err
			}
			seed, err := decodeSeed([]byte(res.Content))
			if err != nil {
				return nil, b.gw.invalid(opBatch, err)
			}
			// The anchor is authoritative for the identity.
			seed.Demographics.Name = anchors[start+i]
			if err := validateSeed(seed, audience); err != nil {
				return nil, b.gw.invalid(opBatch, err)
			}
			seeds = append(seeds, seed)
		}
	}
	return seeds, nil
}

// ArrayBatchGenerator asks for all personas in one response. A response
// that fails validation is retried with the rejection reason included in the
// next prompt.
type ArrayBatchGenerator struct {
	gw *Gateway
}

type arrayPrompt struct {
	Count         int
	Audience      string
	PreviousError string
}

// GenerateBatch implements generation.BatchGenerator.
func (b *ArrayBatchGenerator) GenerateBatch(
	ctx context.Context,
	audience generation.Audience,
	count int,
) ([]generation.PersonaSeed, error) {
	if err := checkBatchRequest(audience, count); err != nil {
		return nil, b.gw.fail(opBatch, 0, false, err)
	}
	audienceJSON, err := json.Marshal(audience)
	if err != nil {
		return nil, b.gw.fail(opBatch, 0, false, err)
	}

	log := logger.FromContextOrDefault(ctx, b.gw.logger)
	var lastErr error
	for attempt := 1; attempt <= arrayAttempts; attempt++ {
		prompt := arrayPrompt{Count: count, Audience: string(audienceJSON)}
		if lastErr != nil {
			prompt.PreviousError = lastErr.Error()
		}
		chat, err := b.gw.prompts.Render(promptBatchArray, prompt)
		if err != nil {
			return nil, b.gw.fail(opBatch, 0, false, err)
		}

		out, err := b.gw.Call(ctx, opBatch, chat)
		switch {
		case err == nil:
			seeds, verr := decodeSeedArray([]byte(out), count, audience)
			if verr == nil {
				return seeds, nil
			}
			lastErr = verr
		case errors.Is(err, generation.ErrInvalidResponse):
			lastErr = err
		default:
			return nil, err
		}

		log.Warn("persona batch response rejected",
			slog.Int("attempt", attempt),
			slog.String("reason", lastErr.Error()))
	}

	return nil, b.gw.invalid(opBatch, fmt.Errorf("no valid batch after %d attempts: %w", arrayAttempts, lastErr))
}

func decodeSeed(data []byte) (generation.PersonaSeed, error) {
	var seed generation.PersonaSeed
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&seed); err != nil {
		return seed, fmt.Errorf("persona does not match the required shape: %v", err)
	}
	return seed, nil
}

func decodeSeedArray(data []byte, count int, audience generation.Audience) ([]generation.PersonaSeed, error) {
	var resp struct {
		Personas []json.RawMessage `json:"personas"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("response is not an object with a personas array: %v", err)
	}
	if len(resp.Personas) != count {
		return nil, fmt.Errorf("expected exactly %d personas, got %d", count, len(resp.Personas))
	}

	seeds := make([]generation.PersonaSeed, 0, count)
	names := make(map[string]bool, count)
	for i, raw := range resp.Personas {
		seed, err := decodeSeed(raw)
		if err != nil {
			return nil, fmt.Errorf("persona %d: %v", i+1, err)
		}
		if err := validateSeed(seed, audience); err != nil {
			return nil, fmt.Errorf("persona %d: %v", i+1, err)
		}
		key := strings.ToLower(strings.TrimSpace(seed.Demographics.Name))
		if names[key] {
			return nil, fmt.Errorf("persona %d: duplicate name %q", i+1, seed.Demographics.Name)
		}
		names[key] = true
		seeds = append(seeds, seed)
	}
	return seeds, nil
}

func validateSeed(seed generation.PersonaSeed, audience generation.Audience) error {
	d := seed.Demographics
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("demographics.name is required")
	}
	if d.Age < 13 || d.Age > 120 {
		return fmt.Errorf("demographics.age %d is out of range", d.Age)
	}
	if audience.AgeMin != 0 && d.Age < audience.AgeMin {
		return fmt.Errorf("demographics.age %d is below the audience minimum %d", d.Age, audience.AgeMin)
	}
	if audience.AgeMax != 0 && d.Age > audience.AgeMax {
		return fmt.Errorf("demographics.age %d is above the audience maximum %d", d.Age, audience.AgeMax)
	}
	p := seed.Psychographics
	if len(trimAll(p.Interests)) == 0 && len(trimAll(p.Values)) == 0 {
		return errors.New("psychographics needs at least one interest or value")
	}
	return nil
}

var firstNames = []string{
	"Amara", "Bruno", "Chen", "Dalia", "Emeka", "Freya", "Gustavo", "Hana",
	"Ibrahim", "Jonas", "Keiko", "Lucia", "Mateo", "Nadia", "Oskar", "Priya",
	"Quentin", "Rosa", "Sanjay", "Tamar", "Umar", "Vera", "Wen", "Ximena",
	"Yusuf", "Zofia", "Aiden", "Beatriz", "Caleb", "Dmitri",
}

var lastNames = []string{
	"Okafor", "Silva", "Nakamura", "Haddad", "Kowalski", "Lindqvist", "Moreau",
	"Patel", "Reyes", "Schmidt", "Tanaka", "Usman", "Varga", "Williams",
	"Yilmaz", "Zhang", "Abara", "Bianchi", "Castillo", "Dubois",
}

// pickAnchors returns n distinct full names.
func pickAnchors(n int) []string {
	total := len(firstNames) * len(lastNames)
	if n > total {
		n = total
	}
	perm := rand.Perm(total)
	out := make([]string, 0, n)
	for _, idx := range perm[:n] {
		out = append(out, firstNames[idx%len(firstNames)]+" "+lastNames[idx/len(firstNames)])
	}
	return out
}
