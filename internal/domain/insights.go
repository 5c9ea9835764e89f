package domain

import (
	"encoding/json"
	"math"
)

// HighIntentThreshold is the lowest purchase intent counted as likely to buy.
const HighIntentThreshold = 8

// Theme is a named cluster of similar concerns.
type Theme struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// AggregatedInsights summarizes a completed session.
type AggregatedInsights struct {
	AverageScore          float64 `json:"averageScore"`
	PurchaseIntentPercent float64 `json:"purchaseIntentPercent"`
	Themes                []Theme `json:"themes"`
	CompletedCount        int     `json:"completedCount"`
	FailedCount           int     `json:"failedCount"`
}

// Aggregate computes the numeric part of the insights from the purchase
// intents of completed results. Themes are filled in separately.
func Aggregate(intents []int) AggregatedInsights {
	out := AggregatedInsights{Themes: []Theme{}, CompletedCount: len(intents)}
	if len(intents) == 0 {
		return out
	}

	sum, high := 0, 0
	for _, v := range intents {
		sum += v
		if v >= HighIntentThreshold {
			high++
		}
	}
	out.AverageScore = round2(float64(sum) / float64(len(intents)))
	out.PurchaseIntentPercent = round2(float64(high) * 100 / float64(len(intents)))
	return out
}

// Marshal serializes the insights for storage on the session.
func (a AggregatedInsights) Marshal() (json.RawMessage, error) {
	return json.Marshal(a)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
