package nutrition

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/franckalain/foodlens/internal/models"
)

//go:embed recommendations.yaml
var catalogYAML []byte

var (
	catalogOnce sync.Once
	catalog     []models.Recommendation
	catalogErr  error
)

// Display is everything the view layer needs to render one result.
type Display struct {
	Label             string                  `json:"label"`
	ConfidencePercent int                     `json:"confidence_percent"`
	Calories          float64                 `json:"calories"`
	Macros            Macros                  `json:"macros"`
	Balance           models.Balance          `json:"balance"`
	Recommendations   []models.Recommendation `json:"recommendations"`
}

// Present derives the display fields of a result. recommendations limits the
// number of suggested foods; zero disables them.
func Present(result *models.AnalysisResult, recommendations int) (*Display, error) {
	if result == nil {
		return nil, fmt.Errorf("no analysis result")
	}
	balance := result.Balance
	if balance == "" {
		balance = ClassifyBalance(result.NutritionStatus)
	}
	d := &Display{
		Label:             FormatLabel(result.Label),
		ConfidencePercent: ConfidencePercent(result.Confidence),
		Calories:          result.Nutrition.Kalori,
		Macros:            Percentages(&result.Nutrition),
		Balance:           balance,
	}
	if recommendations > 0 {
		recs, err := Recommend(balance, recommendations)
		if err != nil {
			return nil, err
		}
		d.Recommendations = recs
	}
	return d, nil
}

// Recommend returns up to n foods from the embedded catalogue. When the
// analysed meal needs attention, balanced foods are listed first.
func Recommend(balance models.Balance, n int) ([]models.Recommendation, error) {
	items, err := loadCatalog()
	if err != nil {
		return nil, err
	}
	ordered := make([]models.Recommendation, 0, len(items))
	if balance == models.NeedsAttention {
		for _, it := range items {
			if it.Balanced {
				ordered = append(ordered, it)
			}
		}
		for _, it := range items {
			if !it.Balanced {
				ordered = append(ordered, it)
			}
		}
	} else {
		ordered = append(ordered, items...)
	}
	if n > 0 && n < len(ordered) {
		ordered = ordered[:n]
	}
	return ordered, nil
}

func loadCatalog() ([]models.Recommendation, error) {
	catalogOnce.Do(func() {
		var doc struct {
			Foods []models.Recommendation `yaml:"foods"`
		}
		if err := yaml.Unmarshal(catalogYAML, &doc); err != nil {
			catalogErr = fmt.Errorf("failed to parse recommendation catalogue: %w", err)
			return
		}
		catalog = doc.Foods
	})
	return catalog, catalogErr
}
