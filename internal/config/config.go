// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/clearspend/clearspend/internal/money"
)

// Config holds all application configuration. It is constructed once at
// startup and never mutated afterward; packages receive the slices and maps
// by value at construction time.
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Policy settings
	RestrictedCategories []string
	SpendingLimit        *big.Int // per-period spending limit, micro-units

	// Risk settings
	HighAmountThreshold    *big.Int // micro-units
	MidAmountThreshold     *big.Int // micro-units
	DaytimeStartHour       int      // inclusive, local time
	DaytimeEndHour         int      // exclusive, local time
	SuspiciousKeywords     []string
	ElevatedRiskCategories []string
	TrustedPlatforms       []string
	TrustedCategories      []string
	BaitAmounts            []*big.Int
	VelocityWindow         time.Duration
	VelocityThreshold      int
	DuplicateWindow        time.Duration
	DuplicateThreshold     int

	// Decision settings
	RiskBlockThreshold float64
	ReputationFloor    float64
	MerchantReputation map[string]float64 // merchant name -> score, neutral default if absent
	FraudBlocklist     []string

	// Ledger settings. When LedgerRPCURL is empty the in-process simulated
	// ledger is used (development/demo mode).
	LedgerRPCURL       string
	ChainID            int64
	PrivateKey         string // Hex-encoded, no 0x prefix
	SettlementContract string
	ConfirmInterval    time.Duration
	ConfirmMaxAttempts int
	SubmitTimeout      time.Duration
	MerchantAddresses  map[string]string // merchant name -> ledger address
	DefaultRecipient   string            // fallback transfer recipient
	ExplorerBaseURL    string

	// Allowance settings
	WeeklyAllowance   *big.Int
	EmergencyCap      *big.Int
	AllowanceInterval time.Duration

	// Display
	CurrencyCode string

	// Security / observability
	RateLimitRPS int
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort               = "8080"
	DefaultEnv                = "development"
	DefaultLogLevel           = "info"
	DefaultChainID            = 84532 // Base Sepolia
	DefaultConfirmInterval    = time.Second
	DefaultConfirmAttempts    = 10
	DefaultSubmitTimeout      = 10 * time.Second
	DefaultVelocityWindow     = 5 * time.Minute
	DefaultVelocityThreshold  = 4
	DefaultDuplicateWindow    = 24 * time.Hour
	DefaultDuplicateThreshold = 3
	DefaultDaytimeStart       = 8
	DefaultDaytimeEnd         = 22
	DefaultRiskBlock          = 8.0
	DefaultReputationFloor    = 4.0
	DefaultRateLimit          = 100
	DefaultCurrency           = "USDC"
)

var (
	defaultRestricted = []string{"Gaming", "Gambling", "Adult Content", "Tobacco", "Alcohol"}
	defaultKeywords   = []string{"shady", "fake", "unverified", "casino", "lottery"}
	defaultElevated   = []string{"Electronics", "Gift Cards"}
	defaultTrusted    = []string{"Khan Academy", "Amazon", "Spotify", "Uber"}
	defaultTrustedCat = []string{"Education", "Books"}
	defaultBlocklist  = []string{"ShadyDealsOnline", "FakeGameStore", "UnverifiedShop"}
	defaultBait       = []string{"1.00", "100.00", "1000.00"}

	// Block-listed merchants are deliberately absent: the reputation check
	// runs before the block-list check, and a low table score would mask
	// the more specific blacklisted_merchant denial.
	defaultReputation = map[string]float64{
		"Khan Academy": 9.5,
		"Amazon":       8.5,
		"Spotify":      8.0,
		"Uber":         7.5,
	}
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", DefaultPort),
		Env:         getEnv("ENV", DefaultEnv),
		LogLevel:    getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL: os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set

		RestrictedCategories: getEnvList("RESTRICTED_CATEGORIES", defaultRestricted),

		DaytimeStartHour:       int(getEnvInt64("DAYTIME_START_HOUR", DefaultDaytimeStart)),
		DaytimeEndHour:         int(getEnvInt64("DAYTIME_END_HOUR", DefaultDaytimeEnd)),
		SuspiciousKeywords:     getEnvList("SUSPICIOUS_KEYWORDS", defaultKeywords),
		ElevatedRiskCategories: getEnvList("ELEVATED_RISK_CATEGORIES", defaultElevated),
		TrustedPlatforms:       getEnvList("TRUSTED_PLATFORMS", defaultTrusted),
		TrustedCategories:      getEnvList("TRUSTED_CATEGORIES", defaultTrustedCat),
		VelocityWindow:         getEnvDuration("VELOCITY_WINDOW", DefaultVelocityWindow),
		VelocityThreshold:      int(getEnvInt64("VELOCITY_THRESHOLD", DefaultVelocityThreshold)),
		DuplicateWindow:        getEnvDuration("DUPLICATE_WINDOW", DefaultDuplicateWindow),
		DuplicateThreshold:     int(getEnvInt64("DUPLICATE_THRESHOLD", DefaultDuplicateThreshold)),

		RiskBlockThreshold: getEnvFloat("RISK_BLOCK_THRESHOLD", DefaultRiskBlock),
		ReputationFloor:    getEnvFloat("REPUTATION_FLOOR", DefaultReputationFloor),
		FraudBlocklist:     getEnvList("FRAUD_BLOCKLIST", defaultBlocklist),

		LedgerRPCURL:       os.Getenv("LEDGER_RPC_URL"), // Optional, simulated ledger if not set
		ChainID:            getEnvInt64("CHAIN_ID", DefaultChainID),
		PrivateKey:         os.Getenv("PRIVATE_KEY"),
		SettlementContract: os.Getenv("SETTLEMENT_CONTRACT"),
		ConfirmInterval:    getEnvDuration("CONFIRM_POLL_INTERVAL", DefaultConfirmInterval),
		ConfirmMaxAttempts: int(getEnvInt64("CONFIRM_MAX_ATTEMPTS", DefaultConfirmAttempts)),
		SubmitTimeout:      getEnvDuration("SUBMIT_TIMEOUT", DefaultSubmitTimeout),
		MerchantAddresses:  getEnvStringMap("MERCHANT_ADDRESSES", nil),
		DefaultRecipient:   os.Getenv("DEFAULT_RECIPIENT"),
		ExplorerBaseURL:    os.Getenv("EXPLORER_BASE_URL"),

		AllowanceInterval: getEnvDuration("ALLOWANCE_MIN_INTERVAL", 7*24*time.Hour),

		CurrencyCode: getEnv("CURRENCY_CODE", DefaultCurrency),
		RateLimitRPS: int(getEnvInt64("RATE_LIMIT_RPS", DefaultRateLimit)),
		OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
	}

	var err error
	if cfg.SpendingLimit, err = getEnvAmount("SPENDING_LIMIT", "50.00"); err != nil {
		return nil, err
	}
	if cfg.HighAmountThreshold, err = getEnvAmount("HIGH_AMOUNT_THRESHOLD", "500.00"); err != nil {
		return nil, err
	}
	if cfg.MidAmountThreshold, err = getEnvAmount("MID_AMOUNT_THRESHOLD", "100.00"); err != nil {
		return nil, err
	}
	if cfg.WeeklyAllowance, err = getEnvAmount("WEEKLY_ALLOWANCE", "25.00"); err != nil {
		return nil, err
	}
	if cfg.EmergencyCap, err = getEnvAmount("EMERGENCY_ALLOWANCE_CAP", "20.00"); err != nil {
		return nil, err
	}
	if cfg.BaitAmounts, err = getEnvAmounts("BAIT_AMOUNTS", defaultBait); err != nil {
		return nil, err
	}
	if cfg.MerchantReputation, err = getEnvScoreMap("MERCHANT_REPUTATION", defaultReputation); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
// Any failure here is fatal at startup; thresholds are never checked
// per-request.
func (c *Config) Validate() error {
	if c.SpendingLimit.Sign() <= 0 {
		return fmt.Errorf("SPENDING_LIMIT must be positive")
	}
	if c.MidAmountThreshold.Cmp(c.HighAmountThreshold) >= 0 {
		return fmt.Errorf("MID_AMOUNT_THRESHOLD must be below HIGH_AMOUNT_THRESHOLD")
	}
	if c.DaytimeStartHour < 0 || c.DaytimeStartHour > 23 ||
		c.DaytimeEndHour < 1 || c.DaytimeEndHour > 24 ||
		c.DaytimeStartHour >= c.DaytimeEndHour {
		return fmt.Errorf("DAYTIME_START_HOUR/DAYTIME_END_HOUR must form a valid window within 0-24")
	}
	if c.RiskBlockThreshold <= 0 || c.RiskBlockThreshold > 10 {
		return fmt.Errorf("RISK_BLOCK_THRESHOLD must be in (0, 10]")
	}
	if c.ReputationFloor < 0 || c.ReputationFloor > 10 {
		return fmt.Errorf("REPUTATION_FLOOR must be in [0, 10]")
	}
	for name, score := range c.MerchantReputation {
		if score < 0 || score > 10 {
			return fmt.Errorf("MERCHANT_REPUTATION score for %q must be in [0, 10]", name)
		}
	}
	if c.VelocityThreshold < 1 || c.DuplicateThreshold < 1 {
		return fmt.Errorf("velocity and duplication thresholds must be at least 1")
	}
	if c.VelocityWindow <= 0 || c.DuplicateWindow <= 0 {
		return fmt.Errorf("velocity and duplication windows must be positive")
	}
	if c.ConfirmInterval <= 0 {
		return fmt.Errorf("CONFIRM_POLL_INTERVAL must be positive")
	}
	if c.ConfirmMaxAttempts < 1 {
		return fmt.Errorf("CONFIRM_MAX_ATTEMPTS must be at least 1")
	}
	if c.SubmitTimeout <= 0 {
		return fmt.Errorf("SUBMIT_TIMEOUT must be positive")
	}

	// EVM ledger settings are only required when an RPC URL is configured.
	if c.LedgerRPCURL != "" {
		key := c.PrivateKey
		if len(key) == 66 && key[:2] == "0x" {
			key = key[2:]
		}
		if len(key) != 64 {
			return fmt.Errorf("PRIVATE_KEY must be 64 hex characters when LEDGER_RPC_URL is set")
		}
		if c.SettlementContract == "" {
			return fmt.Errorf("SETTLEMENT_CONTRACT is required when LEDGER_RPC_URL is set")
		}
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList parses a comma-separated list, trimming whitespace.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnvAmount parses a decimal amount env var into micro-units.
func getEnvAmount(key, defaultValue string) (*big.Int, error) {
	raw := getEnv(key, defaultValue)
	v, ok := money.Parse(raw)
	if !ok {
		return nil, fmt.Errorf("%s: invalid amount %q", key, raw)
	}
	return v, nil
}

// getEnvAmounts parses a comma-separated list of decimal amounts.
func getEnvAmounts(key string, defaultValue []string) ([]*big.Int, error) {
	raw := getEnvList(key, defaultValue)
	out := make([]*big.Int, 0, len(raw))
	for _, s := range raw {
		v, ok := money.Parse(s)
		if !ok {
			return nil, fmt.Errorf("%s: invalid amount %q", key, s)
		}
		out = append(out, v)
	}
	return out, nil
}

// getEnvStringMap parses "name:value,name:value" pairs.
func getEnvStringMap(key string, defaultValue map[string]string) map[string]string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idx := strings.LastIndex(pair, ":")
		if idx <= 0 {
			continue
		}
		out[strings.TrimSpace(pair[:idx])] = strings.TrimSpace(pair[idx+1:])
	}
	return out
}

// getEnvScoreMap parses "name:score,name:score" pairs.
func getEnvScoreMap(key string, defaultValue map[string]float64) (map[string]float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	out := make(map[string]float64)
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idx := strings.LastIndex(pair, ":")
		if idx <= 0 {
			return nil, fmt.Errorf("%s: invalid entry %q, want name:score", key, pair)
		}
		score, err := strconv.ParseFloat(pair[idx+1:], 64)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid score in %q", key, pair)
		}
		out[strings.TrimSpace(pair[:idx])] = score
	}
	return out, nil
}
