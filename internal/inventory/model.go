package inventory

import (
	"fmt"
	"math"
	"os"

	yaml "gopkg.in/yaml.v2"
)

// ExpiryModel is a pre-trained multinomial logistic classifier over
// three shelf-life classes. Coefficients are fitted offline and shipped
// as a YAML file; the pipeline only scores with them.
type ExpiryModel struct {
	Classes  []string           `yaml:"classes"`
	Features []string           `yaml:"features"`
	Weights  map[string]Weights `yaml:"weights"`
}

// Weights holds the per-class coefficients, keyed by feature name
type Weights struct {
	Intercept    float64            `yaml:"intercept"`
	Coefficients map[string]float64 `yaml:"coefficients"`
}

// Model feature names, matching the YAML file
const (
	FeatureDaysUntilExpiry = "days_until_expiry"
	FeatureSalesVelocity   = "sales_velocity"
	FeatureStockQuantity   = "stock_quantity"
)

// LoadExpiryModel reads and validates a model file
func LoadExpiryModel(path string) (*ExpiryModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file %s: %w", path, err)
	}

	var model ExpiryModel
	if err := yaml.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("failed to parse model file %s: %w", path, err)
	}

	if err := model.validate(); err != nil {
		return nil, fmt.Errorf("invalid model file %s: %w", path, err)
	}

	return &model, nil
}

func (m *ExpiryModel) validate() error {
	if len(m.Classes) == 0 {
		return fmt.Errorf("no classes defined")
	}
	if len(m.Features) == 0 {
		return fmt.Errorf("no features defined")
	}
	for _, class := range m.Classes {
		w, ok := m.Weights[class]
		if !ok {
			return fmt.Errorf("no weights for class %s", class)
		}
		for _, feature := range m.Features {
			if _, ok := w.Coefficients[feature]; !ok {
				return fmt.Errorf("class %s missing coefficient for %s", class, feature)
			}
		}
	}
	return nil
}

// Predict classifies one record. Items already past their expiry date
// are always Expired, independent of the fitted coefficients.
func (m *ExpiryModel) Predict(rec Record) string {
	if rec.DaysUntilExpiry <= 0 {
		return ClassExpired
	}

	features := map[string]float64{
		FeatureDaysUntilExpiry: float64(rec.DaysUntilExpiry),
		FeatureSalesVelocity:   rec.SalesVelocity,
		FeatureStockQuantity:   float64(rec.StockQuantity),
	}

	best := m.Classes[0]
	bestScore := math.Inf(-1)
	for _, class := range m.Classes {
		w := m.Weights[class]
		score := w.Intercept
		for _, feature := range m.Features {
			score += w.Coefficients[feature] * features[feature]
		}
		if score > bestScore {
			bestScore = score
			best = class
		}
	}

	return best
}
