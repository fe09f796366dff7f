package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/tipbot-hq/settler/pkg/logger"
)

const (
	// DefaultDatabasePath defines the default sqlite database location
	DefaultDatabasePath = "settler.db"

	// DefaultChainID defines the default destination chain for transfers
	DefaultChainID = 137

	// DefaultTokenAddress defines the default reward token contract
	DefaultTokenAddress = "0xe36BD65609c08Cd17b53520293523CF4560533d0"

	// DefaultWorkerCount defines the default number of workers to process intents
	DefaultWorkerCount = 5

	// DefaultMetricsPort defines the default port for the metrics server
	DefaultMetricsPort = "8080"

	// DefaultMaxRetries defines the maximum number of retries for failed intents
	DefaultMaxRetries = 10

	// DefaultResolveTimeout defines how long a pending operation may stay
	// unresolved before it is written off as failed
	DefaultResolveTimeout = 10 * time.Minute

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker
	DefaultCircuitBreakerWindow = 60

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 120

	// Default reward amounts, denominated in whole tokens

	DefaultSignupRewardAmount   = "100"
	DefaultReferralRewardAmount = "50"
	DefaultLinkRewardAmount     = "10"
)

// GetEnv returns the raw value of an environment variable
func GetEnv(key string) string {
	return os.Getenv(key)
}

// GetEnvWalletAPIURL returns the wallet provider endpoint from environment variables
func GetEnvWalletAPIURL() (string, error) {
	endpoint := os.Getenv("WALLET_API_URL")
	if endpoint == "" {
		return "", fmt.Errorf("WALLET_API_URL must be set")
	}

	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return "", fmt.Errorf("invalid WALLET_API_URL value: %s, must be a valid URL", endpoint)
	}
	return endpoint, nil
}

// GetEnvDatabasePath returns the sqlite database path from environment variables
func GetEnvDatabasePath() (string, error) {
	path := os.Getenv("DATABASE_PATH")
	if path == "" {
		return DefaultDatabasePath, nil
	}
	return path, nil
}

// GetEnvDefaultChainID returns the default destination chain id from environment variables
func GetEnvDefaultChainID() (int, error) {
	chainID := os.Getenv("DEFAULT_CHAIN_ID")
	if chainID == "" {
		return DefaultChainID, nil
	}

	id, err := strconv.Atoi(chainID)
	if err != nil {
		return 0, fmt.Errorf("invalid DEFAULT_CHAIN_ID value: %s, must be an integer", chainID)
	}
	if id <= 0 {
		return 0, fmt.Errorf("DEFAULT_CHAIN_ID must be greater than 0")
	}
	return id, nil
}

// GetEnvDefaultTokenAddress returns the default token contract address from environment variables
func GetEnvDefaultTokenAddress() (string, error) {
	tokenAddress := os.Getenv("DEFAULT_TOKEN_ADDRESS")
	if tokenAddress == "" {
		return DefaultTokenAddress, nil
	}

	// Validate Ethereum address format
	if !common.IsHexAddress(tokenAddress) {
		return "", fmt.Errorf("invalid DEFAULT_TOKEN_ADDRESS value: %s, must be a valid Ethereum address", tokenAddress)
	}
	return tokenAddress, nil
}

// GetEnvRewardAmounts returns the per-kind reward amounts from environment variables
func GetEnvRewardAmounts() (RewardConfig, error) {
	rewards := RewardConfig{
		SignupAmount:   DefaultSignupRewardAmount,
		ReferralAmount: DefaultReferralRewardAmount,
		LinkAmount:     DefaultLinkRewardAmount,
	}

	overrides := []struct {
		envVar string
		target *string
	}{
		{"SIGNUP_REWARD_AMOUNT", &rewards.SignupAmount},
		{"REFERRAL_REWARD_AMOUNT", &rewards.ReferralAmount},
		{"LINK_REWARD_AMOUNT", &rewards.LinkAmount},
	}

	for _, o := range overrides {
		val := os.Getenv(o.envVar)
		if val == "" {
			continue
		}
		amount, err := decimal.NewFromString(val)
		if err != nil {
			return RewardConfig{}, fmt.Errorf("invalid %s value: %s, must be a decimal number", o.envVar, val)
		}
		if amount.IsNegative() || amount.IsZero() {
			return RewardConfig{}, fmt.Errorf("%s must be greater than 0", o.envVar)
		}
		*o.target = amount.String()
	}

	return rewards, nil
}

// GetEnvWorkerCount returns the number of workers from environment variables
func GetEnvWorkerCount() (int, error) {
	workerCount := os.Getenv("WORKER_COUNT")
	if workerCount == "" {
		return DefaultWorkerCount, nil
	}

	count, err := strconv.Atoi(workerCount)
	if err != nil {
		return 0, fmt.Errorf("invalid WORKER_COUNT value: %s, must be an integer", workerCount)
	}
	if count <= 0 {
		return 0, fmt.Errorf("WORKER_COUNT must be greater than 0")
	}
	return count, nil
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		return DefaultMetricsPort, nil
	}

	// Validate port format
	if _, err := strconv.Atoi(metricsPort); err != nil {
		return "", fmt.Errorf("invalid METRICS_PORT value: %s, must be a valid integer", metricsPort)
	}
	return metricsPort, nil
}

// GetEnvMaxRetries returns the maximum number of retries from environment variables
func GetEnvMaxRetries() (int, error) {
	maxRetries := os.Getenv("MAX_RETRIES")
	if maxRetries == "" {
		return DefaultMaxRetries, nil
	}

	retries, err := strconv.Atoi(maxRetries)
	if err != nil {
		return 0, fmt.Errorf("invalid MAX_RETRIES value: %s, must be an integer", maxRetries)
	}
	if retries < 0 {
		return 0, fmt.Errorf("MAX_RETRIES must not be negative")
	}
	return retries, nil
}

// GetEnvResolveTimeout returns the hash resolution timeout from environment variables
func GetEnvResolveTimeout() (time.Duration, error) {
	timeout := os.Getenv("RESOLVE_TIMEOUT")
	if timeout == "" {
		return DefaultResolveTimeout, nil
	}

	// Validate duration format
	parsed, err := time.ParseDuration(timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid RESOLVE_TIMEOUT value: %s, must be a valid duration string", timeout)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("RESOLVE_TIMEOUT must be greater than 0")
	}
	return parsed, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	enabled := os.Getenv("CIRCUIT_BREAKER_ENABLED")
	if enabled == "" {
		return DefaultCircuitBreakerEnabled, nil
	}

	if enabled == "true" {
		return true, nil
	} else if enabled == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid CIRCUIT_BREAKER_ENABLED value: %s, must be 'true' or 'false'", enabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	threshold := os.Getenv("CIRCUIT_BREAKER_THRESHOLD")
	if threshold == "" {
		return DefaultCircuitBreakerThreshold, nil
	}

	thresholdInt, err := strconv.Atoi(threshold)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_THRESHOLD value: %s, must be an integer", threshold)
	}
	if thresholdInt <= 0 {
		return 0, fmt.Errorf("CIRCUIT_BREAKER_THRESHOLD must be greater than 0")
	}
	return thresholdInt, nil
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	window := os.Getenv("CIRCUIT_BREAKER_WINDOW")
	if window == "" {
		return DefaultCircuitBreakerWindow * time.Second, nil
	}

	// Validate duration format
	parsed, err := time.ParseDuration(window)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_WINDOW value: %s, must be a valid duration string", window)
	}
	return parsed, nil
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	reset := os.Getenv("CIRCUIT_BREAKER_RESET")
	if reset == "" {
		return DefaultCircuitBreakerReset * time.Second, nil
	}

	// Validate duration format
	parsed, err := time.ParseDuration(reset)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_RESET value: %s, must be a valid duration string", reset)
	}
	return parsed, nil
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return logger.InfoLevel, nil
	}

	switch level {
	case "debug":
		return logger.DebugLevel, nil
	case "info":
		return logger.InfoLevel, nil
	case "notice":
		return logger.NoticeLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	}

	return 0, fmt.Errorf("invalid LOG_LEVEL value: %s, must be one of 'debug', 'info', 'notice', 'error'", level)
}

// GetEnvLogColoring returns whether log coloring is enabled from environment variables
func GetEnvLogColoring() (bool, error) {
	coloring := os.Getenv("LOG_COLORING")
	if coloring == "" {
		return false, nil
	}

	if coloring == "true" {
		return true, nil
	} else if coloring == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid LOG_COLORING value: %s, must be 'true' or 'false'", coloring)
}
