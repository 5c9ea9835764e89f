package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/phrazzld/personasim/internal/domain"
	"github.com/phrazzld/personasim/internal/generation"
	"github.com/phrazzld/personasim/internal/platform/logger"
)

// maxThemeConcerns caps how many concerns are sent for grouping.
const maxThemeConcerns = 400

// maxThemes is the most themes accepted from the model.
const maxThemes = 7

// GeneratePersonaDetails implements generation.PersonaDetailGenerator.
func (g *Gateway) GeneratePersonaDetails(
	ctx context.Context,
	req generation.PersonaDetailRequest,
) (*generation.PersonaDetails, error) {
	inputs, err := json.Marshal(struct {
		Demographics   domain.Demographics   `json:"demographics"`
		Psychographics domain.Psychographics `json:"psychographics"`
	}{req.Demographics, req.Psychographics})
	if err != nil {
		return nil, g.fail(opPersonaDetails, 0, false, err)
	}

	chat, err := g.prompts.Render(promptPersonaDetails, struct{ Inputs string }{string(inputs)})
	if err != nil {
		return nil, g.fail(opPersonaDetails, 0, false, err)
	}

	out, err := g.Call(ctx, opPersonaDetails, chat)
	if err != nil {
		return nil, err
	}

	var details generation.PersonaDetails
	if err := json.Unmarshal([]byte(out), &details); err != nil {
		return nil, g.invalid(opPersonaDetails, err)
	}
	details.Bio = strings.TrimSpace(details.Bio)
	details.EvaluationStyle = strings.TrimSpace(details.EvaluationStyle)
	if err := details.Validate(); err != nil {
		return nil, g.invalid(opPersonaDetails, err)
	}
	return &details, nil
}

type feedbackPrompt struct {
	Bio             string
	EvaluationStyle string
	Demographics    string
	Product         string
	LanguageName    string
}

// GenerateFeedback implements generation.FeedbackGenerator. Unknown language
// codes fall back to the configured default language.
func (g *Gateway) GenerateFeedback(ctx context.Context, req generation.FeedbackRequest) (*domain.Feedback, error) {
	lang, ok := generation.ResolveLanguage(req.LanguageCode, g.opts.DefaultLanguage)
	if !ok {
		logger.FromContextOrDefault(ctx, g.logger).Warn("unsupported language code, using default",
			slog.String("requested", req.LanguageCode),
			slog.String("used", lang.Code))
	}

	demographics, err := json.Marshal(req.Demographics)
	if err != nil {
		return nil, g.fail(opFeedback, 0, false, err)
	}
	product, err := json.Marshal(struct {
		Name        string            `json:"name"`
		Description string            `json:"description,omitempty"`
		Category    string            `json:"category,omitempty"`
		Price       string            `json:"price,omitempty"`
		Attributes  map[string]string `json:"attributes,omitempty"`
	}{
		Name:        req.Product.Name,
		Description: req.Product.Description,
		Category:    req.Product.Category,
		Price:       formatPrice(req.Product.PriceCents, req.Product.Currency),
		Attributes:  req.Product.Attributes,
	})
	if err != nil {
		return nil, g.fail(opFeedback, 0, false, err)
	}

	chat, err := g.prompts.Render(promptFeedback, feedbackPrompt{
		Bio:             req.PersonaBio,
		EvaluationStyle: req.EvaluationStyle,
		Demographics:    string(demographics),
		Product:         string(product),
		LanguageName:    lang.Name,
	})
	if err != nil {
		return nil, g.fail(opFeedback, 0, false, err)
	}

	out, err := g.Call(ctx, opFeedback, chat)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Feedback       string      `json:"feedback"`
		PurchaseIntent json.Number `json:"purchaseIntent"`
		Concerns       []string    `json:"concerns"`
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(out)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, g.invalid(opFeedback, err)
	}
	intent, err := raw.PurchaseIntent.Int64()
	if err != nil {
		return nil, g.invalid(opFeedback, fmt.Errorf("purchaseIntent %q is not an integer", raw.PurchaseIntent))
	}

	fb := &domain.Feedback{
		Narrative:      strings.TrimSpace(raw.Feedback),
		PurchaseIntent: int(intent),
		Concerns:       trimAll(raw.Concerns),
	}
	if err := fb.Validate(); err != nil {
		return nil, g.invalid(opFeedback, err)
	}
	return fb, nil
}

// GroupConcerns implements generation.ThemeGrouper. An empty input yields
// no themes without calling the provider.
func (g *Gateway) GroupConcerns(ctx context.Context, concerns []string) ([]domain.Theme, error) {
	concerns = trimAll(concerns)
	if len(concerns) == 0 {
		return []domain.Theme{}, nil
	}
	if len(concerns) > maxThemeConcerns {
		concerns = concerns[:maxThemeConcerns]
	}

	list, err := json.Marshal(concerns)
	if err != nil {
		return nil, g.fail(opThemes, 0, false, err)
	}
	chat, err := g.prompts.Render(promptThemes, struct{ Concerns string }{string(list)})
	if err != nil {
		return nil, g.fail(opThemes, 0, false, err)
	}

	out, err := g.Call(ctx, opThemes, chat)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Themes []domain.Theme `json:"themes"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		return nil, g.invalid(opThemes, err)
	}
	if len(resp.Themes) == 0 || len(resp.Themes) > maxThemes {
		return nil, g.invalid(opThemes, fmt.Errorf("expected 1 to %d themes, got %d", maxThemes, len(resp.Themes)))
	}
	themes := make([]domain.Theme, 0, len(resp.Themes))
	for _, t := range resp.Themes {
		name := strings.TrimSpace(t.Name)
		if name == "" || t.Count < 1 {
			return nil, g.invalid(opThemes, fmt.Errorf("theme %q has count %d", t.Name, t.Count))
		}
		themes = append(themes, domain.Theme{Name: name, Count: t.Count})
	}
	sort.SliceStable(themes, func(i, j int) bool { return themes[i].Count > themes[j].Count })
	return themes, nil
}

// invalid reports a response that parsed as JSON but has the wrong shape.
func (g *Gateway) invalid(op string, err error) *generation.GatewayError {
	callsTotal.WithLabelValues(g.provider.Name(), op, "invalid").Inc()
	return g.fail(op, 0, false, fmt.Errorf("%w: %v", generation.ErrInvalidResponse, err))
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func formatPrice(cents int64, currency string) string {
	if cents <= 0 {
		return ""
	}
	s := fmt.Sprintf("%d.%02d", cents/100, cents%100)
	if currency != "" {
		s += " " + strings.ToUpper(currency)
	}
	return s
}
