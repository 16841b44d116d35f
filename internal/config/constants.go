package config

import "time"

// Application constants for the Inventory Insights system
const (
	// Application info
	AppName    = "Inventory Insights"
	AppVersion = "1.2.0"

	// EnvPrefix is the prefix for all environment variables
	EnvPrefix = "INVSIGHT"

	// DefaultConfigFile is the default YAML config location
	DefaultConfigFile = "config/invsight.yaml"

	// Default directories (relative to the base directory)
	DefaultDataDir = "data"
	DefaultLogsDir = "logs"

	// Well-known pipeline artifact file names
	RawUploadFileName      = "uploaded_inventory.csv"
	ProcessedFileName      = "processed_data.csv"
	RiskScoresFileName     = "risk_scores.csv"
	RecommendationFileName = "recommendations.csv"
	ForecastFileName       = "all_products_forecast.csv"

	// Rate limiting defaults
	DefaultRateLimit = 100
	DefaultBurstSize = 50

	// Network timeouts
	DefaultHTTPTimeout = 30 * time.Second

	// Pipeline defaults
	DefaultStageTimeout    = 5 * time.Minute
	DefaultRunTimeout      = 10 * time.Minute
	DefaultForecastHorizon = 30
)
