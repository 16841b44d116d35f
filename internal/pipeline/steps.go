package pipeline

import (
	"log/slog"

	"invsight/internal/config"
)

// RegisterDefaultSteps wires the standard five-step chain into a manager
func RegisterDefaultSteps(m *Manager, paths *config.Paths, horizon int, logger *slog.Logger) error {
	steps := []Step{
		NewPreprocessStep(paths, logger),
		NewClassifyStep(paths, logger),
		NewForecastStep(paths, horizon, logger),
		NewRiskStep(paths, logger),
		NewRecommendStep(paths, logger),
	}
	for _, step := range steps {
		if err := m.Register(step); err != nil {
			return err
		}
	}
	return m.Registry().ValidateDependencies()
}
