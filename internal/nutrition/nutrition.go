// Package nutrition turns analysis results into display-ready values.
package nutrition

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/franckalain/foodlens/internal/models"
)

// BalancedStatus is the upstream nutrition_status tag for a balanced meal.
const BalancedStatus = "Seimbang"

// Macros holds integer percentages of protein, carbohydrate and fat.
type Macros struct {
	Protein int `json:"protein"`
	Carbs   int `json:"carbs"`
	Fat     int `json:"fat"`
}

// Percentages computes each macro as a share of their sum. Each value is
// rounded independently, so the total may be off 100 by at most one.
// A zero, negative or non-finite input yields all zeros.
func Percentages(n *models.Nutrition) Macros {
	if n == nil {
		return Macros{}
	}
	p, c, f := n.Protein, n.Karbohidrat, n.Lemak
	for _, v := range []float64{p, c, f} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return Macros{}
		}
	}
	total := p + c + f
	if total <= 0 {
		return Macros{}
	}
	return Macros{
		Protein: int(math.Round(p / total * 100)),
		Carbs:   int(math.Round(c / total * 100)),
		Fat:     int(math.Round(f / total * 100)),
	}
}

// ClassifyBalance maps the upstream status tag to the binary UI class.
func ClassifyBalance(status string) models.Balance {
	if status == BalancedStatus {
		return models.Balanced
	}
	return models.NeedsAttention
}

// FormatLabel converts a machine label such as "grilled_salmon" into
// "Grilled Salmon".
func FormatLabel(raw string) string {
	words := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '_' || unicode.IsSpace(r)
	})
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

// ConfidencePercent converts a [0,1] confidence into a rounded percentage,
// clamped to [0,100].
func ConfidencePercent(confidence float64) int {
	if math.IsNaN(confidence) || confidence <= 0 {
		return 0
	}
	if confidence >= 1 {
		return 100
	}
	return int(math.Round(confidence * 100))
}
