package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agentpay/agent_pay/internal/ledger"
	"github.com/agentpay/agent_pay/internal/withdrawal"
)

const (
	defaultAppName            = "AgentPay"
	defaultAppEnv             = "development"
	defaultPort               = "8080"
	defaultLogLevel           = "info"
	defaultShutdownDelay      = 10 * time.Second
	defaultIdempotencyTTL     = 24 * time.Hour
	defaultFeeRateBps         = 500
	defaultHoldPeriod         = 24 * time.Hour
	defaultReleaseInterval    = 30 * time.Second
	defaultMinAccountAge      = 24 * time.Hour
	defaultMinReputation      = 50
	defaultWithdrawalsPerMin  = 5
	idemTTLSecondsEnvVar      = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar          = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar     = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar    = "SHUTDOWN_TIMEOUT"
	feeRateBpsEnvVar          = "FEE_RATE_BPS"
	holdPeriodEnvVar          = "SETTLEMENT_HOLD"
	releaseIntervalEnvVar     = "RELEASE_POLL_INTERVAL"
	minAccountAgeEnvVar       = "WITHDRAW_MIN_ACCOUNT_AGE"
	minReputationEnvVar       = "WITHDRAW_MIN_REPUTATION"
	withdrawalsPerMinEnvVar   = "WITHDRAWALS_PER_MINUTE"
)

// Per-chain defaults for withdrawal limits, denominated in the chain's
// native asset.
var defaultPolicies = map[ledger.Chain]withdrawal.ChainPolicy{
	ledger.ChainETH: {MinWithdrawal: "0.001", PerTxCap: "1", DailyCap: "5"},
	ledger.ChainBTC: {MinWithdrawal: "0.0001", PerTxCap: "0.05", DailyCap: "0.25"},
}

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	// Settlement.
	FeeRateBps      int64
	HoldPeriod      time.Duration
	ReleaseInterval time.Duration

	// Withdrawal risk.
	MinAccountAge     time.Duration
	MinReputation     int
	Policies          map[ledger.Chain]withdrawal.ChainPolicy
	WithdrawalsPerMin int

	// Optional treasury bootstrap, e.g. TREASURY_ADDRESS_ETH.
	TreasuryAddresses map[ledger.Chain]string
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:           getEnv("APP_NAME", defaultAppName),
		AppEnv:            getEnv("APP_ENV", defaultAppEnv),
		Port:              getEnv("PORT", defaultPort),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		ShutdownPeriod:    defaultShutdownDelay,
		IdempotencyTTL:    defaultIdempotencyTTL,
		FeeRateBps:        defaultFeeRateBps,
		HoldPeriod:        defaultHoldPeriod,
		ReleaseInterval:   defaultReleaseInterval,
		MinAccountAge:     defaultMinAccountAge,
		MinReputation:     defaultMinReputation,
		WithdrawalsPerMin: defaultWithdrawalsPerMin,
	}

	if v := os.Getenv(shutdownSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownSecondsEnvVar, err)
		}
		cfg.ShutdownPeriod = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(shutdownDurationEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownDurationEnvVar, err)
		}
		cfg.ShutdownPeriod = d
	}

	if v := os.Getenv(idemTTLSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLSecondsEnvVar, err)
		}
		cfg.IdempotencyTTL = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(idemTTLDurEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLDurEnvVar, err)
		}
		cfg.IdempotencyTTL = d
	}

	if v := os.Getenv(feeRateBpsEnvVar); v != "" {
		bps, err := strconv.ParseInt(v, 10, 64)
		if err != nil || bps < 0 || bps > 10_000 {
			return Config{}, fmt.Errorf("invalid %s: must be 0..10000", feeRateBpsEnvVar)
		}
		cfg.FeeRateBps = bps
	}
	if d, err := durationEnv(holdPeriodEnvVar, cfg.HoldPeriod); err != nil {
		return Config{}, err
	} else {
		cfg.HoldPeriod = d
	}
	if d, err := durationEnv(releaseIntervalEnvVar, cfg.ReleaseInterval); err != nil {
		return Config{}, err
	} else {
		cfg.ReleaseInterval = d
	}
	if d, err := durationEnv(minAccountAgeEnvVar, cfg.MinAccountAge); err != nil {
		return Config{}, err
	} else {
		cfg.MinAccountAge = d
	}
	if v := os.Getenv(minReputationEnvVar); v != "" {
		rep, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", minReputationEnvVar, err)
		}
		cfg.MinReputation = rep
	}
	if v := os.Getenv(withdrawalsPerMinEnvVar); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", withdrawalsPerMinEnvVar, err)
		}
		cfg.WithdrawalsPerMin = limit
	}

	cfg.Policies = make(map[ledger.Chain]withdrawal.ChainPolicy, len(defaultPolicies))
	cfg.TreasuryAddresses = make(map[ledger.Chain]string)
	for chain, policy := range defaultPolicies {
		suffix := strings.ToUpper(string(chain))
		policy.MinWithdrawal = getEnv("WITHDRAW_MIN_"+suffix, policy.MinWithdrawal)
		policy.PerTxCap = getEnv("WITHDRAW_TX_CAP_"+suffix, policy.PerTxCap)
		policy.DailyCap = getEnv("WITHDRAW_DAILY_CAP_"+suffix, policy.DailyCap)
		cfg.Policies[chain] = policy
		if addr := os.Getenv("TREASURY_ADDRESS_" + suffix); addr != "" {
			cfg.TreasuryAddresses[chain] = addr
		}
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}

	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
