package nutrition

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franckalain/foodlens/internal/models"
)

func TestPercentages(t *testing.T) {
	tests := []struct {
		name string
		in   *models.Nutrition
		want Macros
	}{
		{"even split", &models.Nutrition{Protein: 10, Karbohidrat: 10, Lemak: 10}, Macros{33, 33, 33}},
		{"simple", &models.Nutrition{Protein: 20, Karbohidrat: 50, Lemak: 30}, Macros{20, 50, 30}},
		{"all zero", &models.Nutrition{}, Macros{}},
		{"nil", nil, Macros{}},
		{"negative", &models.Nutrition{Protein: -1, Karbohidrat: 5, Lemak: 5}, Macros{}},
		{"nan", &models.Nutrition{Protein: math.NaN(), Karbohidrat: 5}, Macros{}},
		{"only fat", &models.Nutrition{Lemak: 12.5}, Macros{0, 0, 100}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Percentages(tc.in))
		})
	}
}

func TestPercentages_SumWithinRounding(t *testing.T) {
	for p := 0.0; p <= 40; p += 3.7 {
		for c := 0.0; c <= 40; c += 4.3 {
			for f := 0.0; f <= 40; f += 5.1 {
				if p+c+f == 0 {
					continue
				}
				m := Percentages(&models.Nutrition{Protein: p, Karbohidrat: c, Lemak: f})
				sum := m.Protein + m.Carbs + m.Fat
				if sum < 99 || sum > 101 {
					t.Fatalf("p=%v c=%v f=%v: percentages %+v sum to %d", p, c, f, m, sum)
				}
			}
		}
	}
}

func TestClassifyBalance(t *testing.T) {
	assert.Equal(t, models.Balanced, ClassifyBalance("Seimbang"))
	assert.Equal(t, models.NeedsAttention, ClassifyBalance("seimbang"))
	assert.Equal(t, models.NeedsAttention, ClassifyBalance("Tidak Seimbang"))
	assert.Equal(t, models.NeedsAttention, ClassifyBalance(""))
}

func TestFormatLabel(t *testing.T) {
	tests := map[string]string{
		"grilled_salmon":   "Grilled Salmon",
		"nasi_goreng":      "Nasi Goreng",
		"sate":             "Sate",
		"__double__under_": "Double Under",
		"":                 "",
		"ayam bakar":       "Ayam Bakar",
		"éclair_au_café":   "Éclair Au Café",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatLabel(in), "input %q", in)
	}
}

func TestConfidencePercent(t *testing.T) {
	assert.Equal(t, 0, ConfidencePercent(-0.2))
	assert.Equal(t, 0, ConfidencePercent(math.NaN()))
	assert.Equal(t, 87, ConfidencePercent(0.8724))
	assert.Equal(t, 100, ConfidencePercent(1.3))
}

func TestPresent(t *testing.T) {
	result := &models.AnalysisResult{
		Prediction: models.Prediction{
			Label:           "grilled_salmon",
			Confidence:      0.912,
			Nutrition:       models.Nutrition{Protein: 30, Karbohidrat: 10, Lemak: 10, Kalori: 420},
			NutritionStatus: "Tidak Seimbang",
		},
	}

	d, err := Present(result, 2)
	require.NoError(t, err)

	assert.Equal(t, "Grilled Salmon", d.Label)
	assert.Equal(t, 91, d.ConfidencePercent)
	assert.Equal(t, 420.0, d.Calories)
	assert.Equal(t, Macros{60, 20, 20}, d.Macros)
	assert.Equal(t, models.NeedsAttention, d.Balance)
	require.Len(t, d.Recommendations, 2)
	for _, r := range d.Recommendations {
		assert.True(t, r.Balanced)
	}
}

func TestPresent_NilResult(t *testing.T) {
	_, err := Present(nil, 0)
	assert.Error(t, err)
}

func TestRecommend(t *testing.T) {
	all, err := Recommend(models.Balanced, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "Salmon Teriyaki", all[0].Name)
	assert.Equal(t, 85, all[0].Nutrition["protein"])

	attention, err := Recommend(models.NeedsAttention, 0)
	require.NoError(t, err)
	assert.False(t, attention[len(attention)-1].Balanced)
}
