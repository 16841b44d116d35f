package services

import (
	"context"
	"log/slog"
	"os"
	"time"

	"invsight/internal/config"
)

// HealthService reports liveness and the state of the data artifacts
type HealthService struct {
	paths     *config.Paths
	hub       interface{ Stats() map[string]any }
	logger    *slog.Logger
	startedAt time.Time
}

// NewHealthService creates a health service
func NewHealthService(paths *config.Paths, hub interface{ Stats() map[string]any }, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		paths:     paths,
		hub:       hub,
		logger:    logger.With(slog.String("component", "health_service")),
		startedAt: time.Now(),
	}
}

// ArtifactStatus describes one pipeline output file
type ArtifactStatus struct {
	Present  bool       `json:"present"`
	Modified *time.Time `json:"modified,omitempty"`
	Size     int64      `json:"size,omitempty"`
}

// HealthStatus is the health endpoint response body
type HealthStatus struct {
	Status    string                    `json:"status"`
	Version   string                    `json:"version"`
	Uptime    string                    `json:"uptime"`
	Artifacts map[string]ArtifactStatus `json:"artifacts"`
	WebSocket map[string]any            `json:"websocket,omitempty"`
	Timestamp time.Time                 `json:"timestamp"`
}

// Check builds the current health report. The service is degraded when
// the expiry model is missing, since runs cannot classify without it.
func (hs *HealthService) Check(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Status:    "healthy",
		Version:   config.AppVersion,
		Uptime:    time.Since(hs.startedAt).Round(time.Second).String(),
		Artifacts: make(map[string]ArtifactStatus),
		Timestamp: time.Now(),
	}

	artifacts := map[string]string{
		"uploaded_inventory": hs.paths.RawUploadCSV,
		"processed_data":     hs.paths.ProcessedCSV,
		"risk_scores":        hs.paths.RiskScoresCSV,
		"recommendations":    hs.paths.RecommendationsCSV,
		"forecasts":          hs.paths.ForecastCSV,
		"expiry_model":       hs.paths.ExpiryModelFile,
	}
	for name, path := range artifacts {
		status.Artifacts[name] = artifactStatus(path)
	}

	if !status.Artifacts["expiry_model"].Present {
		status.Status = "degraded"
		hs.logger.WarnContext(ctx, "expiry model missing",
			slog.String("path", hs.paths.ExpiryModelFile))
	}

	if hs.hub != nil {
		status.WebSocket = hs.hub.Stats()
	}

	return status
}

func artifactStatus(path string) ArtifactStatus {
	info, err := os.Stat(path)
	if err != nil {
		return ArtifactStatus{}
	}
	mod := info.ModTime()
	return ArtifactStatus{Present: true, Modified: &mod, Size: info.Size()}
}
