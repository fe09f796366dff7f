package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/tipbot-hq/settler/pkg/logger"
)

// Config holds the configuration for the settlement service
type Config struct {
	WalletAPIURL   string
	WalletAPIKey   string
	DatabasePath   string
	Route          Route
	Rewards        RewardConfig
	Workflow       WorkflowConfig
	Analytics      AnalyticsConfig
	WorkerCount    int
	MetricsPort    string
	MetricsAPIKey  string
	MaxRetries     int
	ResolveTimeout time.Duration
	CircuitBreaker CircuitBreakerConfig
	LoggerConfig   LoggerConfig
}

// Route holds the default routing constants for wallet submissions.
// Per-intent overrides take precedence; these are the documented fallback.
type Route struct {
	ChainID      int
	TokenAddress string
}

// Resolve returns the routing values for a call, falling back to the
// configured defaults for any value the intent left unset.
func (r Route) Resolve(chainID int, tokenAddress string) Route {
	out := r
	if chainID != 0 {
		out.ChainID = chainID
	}
	if tokenAddress != "" {
		out.TokenAddress = tokenAddress
	}
	return out
}

// RewardConfig holds the per-kind reward amount rules
type RewardConfig struct {
	SignupAmount   string
	ReferralAmount string
	LinkAmount     string
}

// WorkflowConfig holds the workflow webhook endpoint configuration
type WorkflowConfig struct {
	URL    string
	APIKey string
}

// AnalyticsConfig holds the analytics sink endpoint configuration
type AnalyticsConfig struct {
	URL string
	Key string
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	walletAPIURL, err := GetEnvWalletAPIURL()
	if err != nil {
		return nil, err
	}

	databasePath, err := GetEnvDatabasePath()
	if err != nil {
		return nil, err
	}

	defaultChainID, err := GetEnvDefaultChainID()
	if err != nil {
		return nil, err
	}

	defaultTokenAddress, err := GetEnvDefaultTokenAddress()
	if err != nil {
		return nil, err
	}

	rewards, err := GetEnvRewardAmounts()
	if err != nil {
		return nil, err
	}

	workerCount, err := GetEnvWorkerCount()
	if err != nil {
		return nil, err
	}

	metricsPort, err := GetEnvMetricsPort()
	if err != nil {
		return nil, err
	}

	maxRetries, err := GetEnvMaxRetries()
	if err != nil {
		return nil, err
	}

	resolveTimeout, err := GetEnvResolveTimeout()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		WalletAPIURL: walletAPIURL,
		WalletAPIKey: GetEnv("WALLET_API_KEY"),
		DatabasePath: databasePath,
		Route: Route{
			ChainID:      defaultChainID,
			TokenAddress: defaultTokenAddress,
		},
		Rewards: rewards,
		Workflow: WorkflowConfig{
			URL:    GetEnv("WORKFLOW_WEBHOOK_URL"),
			APIKey: GetEnv("WORKFLOW_API_KEY"),
		},
		Analytics: AnalyticsConfig{
			URL: GetEnv("ANALYTICS_URL"),
			Key: GetEnv("ANALYTICS_KEY"),
		},
		WorkerCount:    workerCount,
		MetricsPort:    metricsPort,
		MetricsAPIKey:  GetEnv("METRICS_API_KEY"),
		MaxRetries:     maxRetries,
		ResolveTimeout: resolveTimeout,
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}

	return cfg, nil
}
