package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// fingerprintVersion is bumped whenever canonicalization rules change so old
// cache entries stop matching.
const fingerprintVersion = 1

type canonicalInputs struct {
	Version        int            `json:"v"`
	Demographics   Demographics   `json:"d"`
	Psychographics Psychographics `json:"p"`
}

// Fingerprint returns a deterministic serialization of a persona's inputs.
// Strings are trimmed and lower-cased; list fields are sorted and deduplicated,
// so inputs that differ only in ordering or casing share a fingerprint.
func Fingerprint(d Demographics, p Psychographics) (string, error) {
	c := canonicalInputs{
		Version: fingerprintVersion,
		Demographics: Demographics{
			Name:        norm(d.Name),
			Age:         d.Age,
			Gender:      norm(d.Gender),
			Location:    norm(d.Location),
			Occupation:  norm(d.Occupation),
			IncomeLevel: norm(d.IncomeLevel),
			Education:   norm(d.Education),
		},
		Psychographics: Psychographics{
			Values:            normList(p.Values),
			Interests:         normList(p.Interests),
			PersonalityTraits: normList(p.PersonalityTraits),
			Lifestyle:         norm(p.Lifestyle),
			ShoppingHabits:    norm(p.ShoppingHabits),
		},
	}

	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to serialize persona inputs: %w", err)
	}
	return string(b), nil
}

func norm(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func normList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if n := norm(s); n != "" {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
