package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// UnlimitedStakeAmount is the STAKE_AMOUNT value selecting unlimited mode.
const UnlimitedStakeAmount = "unlimited"

// ROIEntry maps minutes-since-entry to the minimum acceptable profit ratio.
type ROIEntry struct {
	Minutes int
	Ratio   float64
}

// Config holds all application configuration.
type Config struct {
	// Exchange API
	APIKey       string
	SecretKey    string
	UseTestnet   bool
	DryRun       bool
	DryRunWallet float64

	// Trading universe
	StakeCurrency string
	PairWhitelist []string

	// Capital allocation
	StakeAmount          float64 // Ignored when StakeUnlimited
	StakeUnlimited       bool
	MaxOpenTrades        int // 0 = unlimited
	TradableBalanceRatio float64
	AvailableCapital     *float64

	// Risk management
	Stoploss                   float64 // Positive fraction, e.g. 0.10
	TrailingStop               bool
	TrailingStopPositive       float64
	TrailingStopPositiveOffset float64
	StoplossOnExchange         bool
	ROITable                   []ROIEntry // Sorted by minutes ascending
	PositionAdjustmentEnable   bool

	// Engine
	StrategyName          string
	ProcessThrottle       time.Duration
	WalletRefreshInterval time.Duration

	// Retry policy
	RetryAttempts   int
	RetryBackoffMin time.Duration
	RetryBackoffMax time.Duration

	// Database
	DBPath string

	// Admin API / notifications
	APIListenAddr string
	WebhookURL    string

	// Logging
	LogLevel string
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.UseTestnet = getEnvAsBool("BINANCE_TESTNET", false)
	cfg.DryRun = getEnvAsBool("DRY_RUN", true) // Default to dry-run for safety
	cfg.DryRunWallet = getEnvAsFloat("DRY_RUN_WALLET", 1000)

	if !cfg.DryRun && (cfg.APIKey == "" || cfg.SecretKey == "") {
		errs = append(errs, "BINANCE_API_KEY and BINANCE_API_SECRET must be set for live trading")
	}

	cfg.StakeCurrency = getEnv("STAKE_CURRENCY", "USDT")
	whitelist := getEnv("PAIR_WHITELIST", "ETH/USDT")
	for _, p := range strings.Split(whitelist, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cfg.PairWhitelist = append(cfg.PairWhitelist, p)
		}
	}
	if len(cfg.PairWhitelist) == 0 {
		errs = append(errs, "PAIR_WHITELIST must name at least one pair")
	}

	stakeStr := getEnv("STAKE_AMOUNT", "100")
	if strings.EqualFold(stakeStr, UnlimitedStakeAmount) {
		cfg.StakeUnlimited = true
	} else {
		cfg.StakeAmount, err = strconv.ParseFloat(stakeStr, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid STAKE_AMOUNT %q: %v", stakeStr, err))
		} else if cfg.StakeAmount <= 0 {
			errs = append(errs, "STAKE_AMOUNT must be positive or \"unlimited\"")
		}
	}

	cfg.MaxOpenTrades = getEnvAsInt("MAX_OPEN_TRADES", 3)
	if cfg.MaxOpenTrades < 0 {
		// -1 is accepted as an alias for unlimited.
		cfg.MaxOpenTrades = 0
	}

	cfg.TradableBalanceRatio = getEnvAsFloat("TRADABLE_BALANCE_RATIO", 0.99)
	if cfg.TradableBalanceRatio <= 0 || cfg.TradableBalanceRatio > 1 {
		errs = append(errs, "TRADABLE_BALANCE_RATIO must be in (0, 1]")
	}

	if v := getEnv("AVAILABLE_CAPITAL", ""); v != "" {
		capital, err := strconv.ParseFloat(v, 64)
		if err != nil || capital <= 0 {
			errs = append(errs, fmt.Sprintf("invalid AVAILABLE_CAPITAL %q", v))
		} else {
			cfg.AvailableCapital = &capital
		}
	}

	cfg.Stoploss = getEnvAsFloat("STOPLOSS", 0.10)
	if cfg.Stoploss <= 0 || cfg.Stoploss >= 1 {
		errs = append(errs, "STOPLOSS must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.TrailingStop = getEnvAsBool("TRAILING_STOP", false)
	cfg.TrailingStopPositive = getEnvAsFloat("TRAILING_STOP_POSITIVE", 0)
	cfg.TrailingStopPositiveOffset = getEnvAsFloat("TRAILING_STOP_POSITIVE_OFFSET", 0)
	if cfg.TrailingStopPositive < 0 || cfg.TrailingStopPositive >= 1 {
		errs = append(errs, "TRAILING_STOP_POSITIVE must be in [0, 1)")
	}
	if cfg.TrailingStopPositive > 0 && cfg.TrailingStopPositiveOffset < cfg.TrailingStopPositive {
		errs = append(errs, "TRAILING_STOP_POSITIVE_OFFSET must be >= TRAILING_STOP_POSITIVE")
	}

	cfg.StoplossOnExchange = getEnvAsBool("STOPLOSS_ON_EXCHANGE", false)
	cfg.PositionAdjustmentEnable = getEnvAsBool("POSITION_ADJUSTMENT_ENABLE", false)

	cfg.ROITable, err = ParseROITable(getEnv("ROI_TABLE", "0:0.04,30:0.02,60:0.01"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid ROI_TABLE: %v", err))
	}

	cfg.StrategyName = getEnv("STRATEGY", "manual")

	throttleSecs := getEnvAsInt("PROCESS_THROTTLE_SECS", 5)
	if throttleSecs <= 0 {
		errs = append(errs, "PROCESS_THROTTLE_SECS must be positive")
	}
	cfg.ProcessThrottle = time.Duration(throttleSecs) * time.Second

	walletSecs := getEnvAsInt("WALLET_REFRESH_SECS", 5)
	if walletSecs <= 0 {
		errs = append(errs, "WALLET_REFRESH_SECS must be positive")
	}
	cfg.WalletRefreshInterval = time.Duration(walletSecs) * time.Second

	cfg.RetryAttempts = getEnvAsInt("RETRY_ATTEMPTS", 4)
	if cfg.RetryAttempts < 1 {
		errs = append(errs, "RETRY_ATTEMPTS must be at least 1")
	}
	cfg.RetryBackoffMin = time.Duration(getEnvAsInt("RETRY_BACKOFF_MIN_MS", 200)) * time.Millisecond
	cfg.RetryBackoffMax = time.Duration(getEnvAsInt("RETRY_BACKOFF_MAX_MS", 10000)) * time.Millisecond
	if cfg.RetryBackoffMax < cfg.RetryBackoffMin {
		errs = append(errs, "RETRY_BACKOFF_MAX_MS must be >= RETRY_BACKOFF_MIN_MS")
	}

	cfg.DBPath = getEnv("DB_PATH", "./data/tradebot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	cfg.APIListenAddr = getEnv("API_LISTEN_ADDR", "") // Empty disables the API server
	cfg.WebhookURL = getEnv("WEBHOOK_URL", "")        // Empty disables webhooks
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// ParseROITable parses a "minutes:ratio,minutes:ratio" schedule into entries
// sorted by minutes ascending.
func ParseROITable(s string) ([]ROIEntry, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var table []ROIEntry
	seen := make(map[int]bool)
	for _, part := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), ":", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("entry %q is not minutes:ratio", part)
		}
		minutes, err := strconv.Atoi(strings.TrimSpace(kv[0]))
		if err != nil || minutes < 0 {
			return nil, fmt.Errorf("invalid minutes in entry %q", part)
		}
		ratio, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ratio in entry %q", part)
		}
		if seen[minutes] {
			return nil, fmt.Errorf("duplicate minutes key %d", minutes)
		}
		seen[minutes] = true
		table = append(table, ROIEntry{Minutes: minutes, Ratio: ratio})
	}
	sort.Slice(table, func(i, j int) bool { return table[i].Minutes < table[j].Minutes })
	return table, nil
}

// ROIFor returns the applicable minimum profit ratio for a trade open the
// given number of minutes: the value of the greatest schedule key not
// exceeding the elapsed time. ok is false when no key applies yet.
func (c *Config) ROIFor(minutes int) (float64, bool) {
	ratio, ok := 0.0, false
	for _, e := range c.ROITable {
		if e.Minutes > minutes {
			break
		}
		ratio, ok = e.Ratio, true
	}
	return ratio, ok
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
