package history

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/franckalain/foodlens/internal/models"
	"github.com/franckalain/foodlens/internal/nutrition"
)

// Normalize turns one backend item into display shape. The backend has
// shipped several field spellings over time; zero and empty values fall
// through to the next candidate.
func Normalize(item map[string]any, index int) models.HistoryEntry {
	result := analysisResult(item)

	entry := models.HistoryEntry{
		ID:       firstString(item, "id"),
		Name:     firstString(result, "label", "food_name"),
		ImageURL: firstString(item, "imageUrl", "image_url", "image"),
		Date:     firstString(item, "createdAt", "created_at", "date"),
		Status:   models.NeedsAttention,
	}
	if entry.ID == "" {
		entry.ID = fmt.Sprintf("history-%d", index)
	}
	if entry.Name == "" {
		entry.Name = firstString(item, "food_name")
	}
	if entry.Name == "" {
		entry.Name = fmt.Sprintf("Meal #%d", index+1)
	}

	if status, _ := result["nutrition_status"].(string); status == nutrition.BalancedStatus {
		entry.Status = models.Balanced
	} else if status, _ := result["status"].(string); status == "healthy" {
		entry.Status = models.Balanced
	}

	if c, ok := number(result["confidence"]); ok {
		pct := int(math.Round(c * 100))
		entry.Confidence = &pct
	}

	nested, _ := result["nutrition"].(map[string]any)
	entry.Calories = firstNumber(
		nested["kalori"], result["calories"], item["calories"])
	entry.Nutrition = models.HistoryNutrition{
		Protein: firstNumber(nested["protein"], result["protein"], item["protein"]),
		Carbs:   firstNumber(nested["karbohidrat"], result["carbs"], item["carbs"]),
		Fat:     firstNumber(nested["lemak"], result["fat"], item["fat"]),
	}
	return entry
}

// analysisResult accepts the result as an object or as a JSON string.
func analysisResult(item map[string]any) map[string]any {
	switch v := item["analysisResult"].(type) {
	case map[string]any:
		return v
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(v), &m); err == nil && m != nil {
			return m
		}
	}
	return map[string]any{}
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			if v != 0 {
				return strconv.FormatFloat(v, 'f', -1, 64)
			}
		}
	}
	return ""
}

func firstNumber(values ...any) *float64 {
	for _, v := range values {
		if n, ok := number(v); ok {
			return &n
		}
	}
	return nil
}

// number reports a non-zero finite value.
func number(v any) (float64, bool) {
	var n float64
	switch x := v.(type) {
	case float64:
		n = x
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, false
		}
		n = f
	default:
		return 0, false
	}
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// FromStored renders a locally mirrored analysis in the same shape as a
// remote history item.
func FromStored(a *models.StoredAnalysis) models.HistoryEntry {
	entry := models.HistoryEntry{
		ID:       a.ID,
		ImageURL: a.ImageURL,
		Status:   models.NeedsAttention,
	}
	if !a.CreatedAt.IsZero() {
		entry.Date = a.CreatedAt.UTC().Format(time.RFC3339)
	}
	if a.Result == nil {
		entry.Name = "Meal"
		return entry
	}
	r := a.Result
	entry.Name = nutrition.FormatLabel(r.Label)
	entry.Status = r.Balance
	pct := nutrition.ConfidencePercent(r.Confidence)
	entry.Confidence = &pct
	entry.Calories = nonZero(r.Nutrition.Kalori)
	entry.Nutrition = models.HistoryNutrition{
		Protein: nonZero(r.Nutrition.Protein),
		Carbs:   nonZero(r.Nutrition.Karbohidrat),
		Fat:     nonZero(r.Nutrition.Lemak),
	}
	return entry
}

func nonZero(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}
