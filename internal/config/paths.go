package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths contains all the application paths.
// This is the single source of truth for every file the pipeline reads or
// writes; stages never assemble artifact paths on their own.
type Paths struct {
	BaseDir string

	DataDir      string
	RawDir       string
	ProcessedDir string
	ExternalDir  string
	ForecastsDir string
	LogsDir      string

	// Well-known pipeline artifacts.
	//
	// base/
	//   ├── data/
	//   │   ├── raw/uploaded_inventory.csv      (ingested upload)
	//   │   ├── processed/processed_data.csv    (preprocess + expiry class)
	//   │   └── external/
	//   │       ├── risk_scores.csv
	//   │       └── recommendations.csv
	//   ├── forecasts/product_level/all_products_forecast.csv
	//   ├── config/expiry_model.yaml
	//   └── logs/
	RawUploadCSV       string
	ProcessedCSV       string
	RiskScoresCSV      string
	RecommendationsCSV string
	ForecastCSV        string
	ExpiryModelFile    string
}

// NewPaths builds the path set from configuration. An empty base directory
// resolves to the working directory.
func NewPaths(cfg PathsConfig) (*Paths, error) {
	base := cfg.BaseDir
	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		base = wd
	}

	dataDir := filepath.Join(base, valueOr(cfg.DataDir, DefaultDataDir))
	rawDir := filepath.Join(dataDir, "raw")
	processedDir := filepath.Join(dataDir, "processed")
	externalDir := filepath.Join(dataDir, "external")
	forecastsDir := filepath.Join(base, valueOr(cfg.ForecastsDir, "forecasts"), "product_level")
	logsDir := filepath.Join(base, valueOr(cfg.LogsDir, DefaultLogsDir))

	modelFile := cfg.ModelFile
	if modelFile == "" {
		modelFile = "config/expiry_model.yaml"
	}
	if !filepath.IsAbs(modelFile) {
		modelFile = filepath.Join(base, modelFile)
	}

	return &Paths{
		BaseDir: base,

		DataDir:      dataDir,
		RawDir:       rawDir,
		ProcessedDir: processedDir,
		ExternalDir:  externalDir,
		ForecastsDir: forecastsDir,
		LogsDir:      logsDir,

		RawUploadCSV:       filepath.Join(rawDir, RawUploadFileName),
		ProcessedCSV:       filepath.Join(processedDir, ProcessedFileName),
		RiskScoresCSV:      filepath.Join(externalDir, RiskScoresFileName),
		RecommendationsCSV: filepath.Join(externalDir, RecommendationFileName),
		ForecastCSV:        filepath.Join(forecastsDir, ForecastFileName),
		ExpiryModelFile:    modelFile,
	}, nil
}

// EnsureDirectories creates every directory the pipeline writes into
func (p *Paths) EnsureDirectories() error {
	dirs := []string{
		p.DataDir,
		p.RawDir,
		p.ProcessedDir,
		p.ExternalDir,
		p.ForecastsDir,
		p.LogsDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// GetLogPath returns the full path for a log file
func (p *Paths) GetLogPath(filename string) string {
	return filepath.Join(p.LogsDir, filename)
}

// FileExists reports whether a pipeline artifact is present
func (p *Paths) FileExists(path string) bool {
	return FileExists(path)
}

// FileExists checks whether a file exists and is not a directory
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
