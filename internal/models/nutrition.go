package models

import (
	"time"
)

// Nutrition is the macro breakdown returned by the prediction service.
// Field names follow the upstream wire format.
type Nutrition struct {
	Protein     float64 `json:"protein"`     // grams
	Karbohidrat float64 `json:"karbohidrat"` // grams of carbohydrate
	Lemak       float64 `json:"lemak"`       // grams of fat
	Kalori      float64 `json:"kalori"`      // kcal
}

// Prediction is the body of a successful analysis envelope.
type Prediction struct {
	Label           string    `json:"label"`
	Confidence      float64   `json:"confidence"` // 0..1
	Nutrition       Nutrition `json:"nutrition"`
	NutritionStatus string    `json:"nutrition_status"`
}

// PredictionEnvelope is what the proxy returns on success.
type PredictionEnvelope struct {
	Status     string      `json:"status"`
	Prediction *Prediction `json:"prediction"`
}

// ErrorEnvelope is what the proxy returns on failure.
type ErrorEnvelope struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Balance is the binary nutrition classification shown to the user
type Balance string

const (
	Balanced       Balance = "balanced"
	NeedsAttention Balance = "needs-attention"
)

// AnalysisResult is a prediction held in client state until the next analysis
// or a new image selection.
type AnalysisResult struct {
	ID         string    `json:"id"`
	Prediction           // embedded so the JSON form matches the upstream shape
	Balance    Balance   `json:"balance"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// HistoryEntry is a persisted analysis normalised into display shape.
type HistoryEntry struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	ImageURL   string           `json:"image_url,omitempty"`
	Status     Balance          `json:"status"`
	Confidence *int             `json:"confidence,omitempty"` // percent
	Calories   *float64         `json:"calories,omitempty"`
	Date       string           `json:"date,omitempty"`
	Nutrition  HistoryNutrition `json:"nutrition"`
}

// HistoryNutrition keeps absent values distinguishable from zero.
type HistoryNutrition struct {
	Protein *float64 `json:"protein,omitempty"`
	Carbs   *float64 `json:"carbs,omitempty"`
	Fat     *float64 `json:"fat,omitempty"`
}

// Recommendation is a suggested food shown next to a result
type Recommendation struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Image       string         `json:"image,omitempty" yaml:"image"`
	Balanced    bool           `json:"balanced" yaml:"balanced"`
	Nutrition   map[string]int `json:"nutrition" yaml:"nutrition"`
}
