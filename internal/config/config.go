package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ServiceName  string

	PostgresDSN   string
	RedisAddr     string
	ClickHouseDSN string
	GeoIPDB       string

	// Database connection pooling configuration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration

	// Pricing
	PlatformFeePercent decimal.Decimal

	// Click tracking
	ClickHashSalt           string
	ClickDuplicateWindow    time.Duration
	ClickRateLimitPerMinute int
	ImpressionDedupWindow   time.Duration

	// Selection
	FreqCapSeconds   int
	SelectionTimeout time.Duration
	MatchingDebug    bool
	MatchingLimit    int

	// Base scoring weights
	MatchCTRLookbackDays     int
	MatchCTRWeight           float64
	MatchTargetingBonus      float64
	MatchRejectLookbackDays  int
	MatchRejectPenaltyWeight float64

	// Market health sampling
	MarketHealthWindowMinutes             int
	MarketHealthStreakSample              int
	MarketHealthFillLow                   float64
	MarketHealthFillHigh                  float64
	MarketHealthRejectHealthy             float64
	MarketHealthEligibleSupplyLow         float64
	MarketHealthRejectVolatilityThreshold float64
	MarketHealthUnfilledStreakThreshold   int
	MarketHealthCacheTTL                  time.Duration

	// Adaptive multiplier boosts
	AlphaProfitBoostLowFill     float64
	AlphaProfitBoostLowSupply   float64
	BetaCTRBoostHealthy         float64
	GammaTargetingBoostLowFill  float64
	GammaTargetingBoostUnfilled float64
	DeltaQualityBoostLowFill    float64
	DeltaQualityBoostVolatility float64

	// Partner quality classification
	PartnerQualityNewClicks         int
	PartnerQualityRecentDays        int
	PartnerQualityLongDays          int
	PartnerQualityRiskyRejectRate   float64
	PartnerQualityRecoverRejectRate float64
	PartnerQualityDeltaNew          float64
	PartnerQualityDeltaStable       float64
	PartnerQualityDeltaRisky        float64
	PartnerQualityDeltaRecovering   float64

	// Exploration
	ExplorationRate               float64
	ExplorationBonus              float64
	ExplorationNewPartnerRequests int
	ExplorationNewAdServes        int
	ExplorationMaxAdServes        int
	ExplorationLookbackDays       int

	// Delivery balancing
	DeliveryLookbackDays            int
	DeliveryMinRequests             int
	DeliveryLowClickRate            float64
	DeliveryMinBudgetRemainingRatio float64
	DeliveryBoostValue              float64

	// Tracing configuration
	TracingEnabled    bool
	TempoEndpoint     string
	TracingSampleRate float64
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent.
func Load() Config {
	cfg := Config{}

	cfg.Port = getenv("PORT", "8787")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 5*time.Second)
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 10*time.Second)
	cfg.ServiceName = getenv("SERVICE_NAME", "mediator")

	cfg.PostgresDSN = getenv("POSTGRES_DSN", "postgres://postgres@127.0.0.1:5432/postgres?sslmode=disable")
	cfg.RedisAddr = getenv("REDIS_ADDR", "localhost:6379")
	cfg.ClickHouseDSN = getenv("CLICKHOUSE_DSN", "")
	cfg.GeoIPDB = getenv("GEOIP_DB", "")

	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.DBConnMaxIdleTime = envDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute)

	cfg.PlatformFeePercent = envDecimal("PLATFORM_FEE_PERCENT", "30")

	cfg.ClickHashSalt = getenv("CLICK_HASH_SALT", "devsalt")
	cfg.ClickDuplicateWindow = envDuration("CLICK_DUPLICATE_WINDOW_SECONDS", 10*time.Second)
	cfg.ClickRateLimitPerMinute = envInt("CLICK_RATE_LIMIT_PER_MINUTE", 20)
	cfg.ImpressionDedupWindow = envDuration("IMPRESSION_DEDUP_WINDOW_SECONDS", 60*time.Second)

	cfg.FreqCapSeconds = envInt("FREQ_CAP_SECONDS", 60)
	cfg.SelectionTimeout = envDuration("SELECTION_TIMEOUT", 500*time.Millisecond)
	cfg.MatchingDebug = envBool("MATCHING_DEBUG", false)
	cfg.MatchingLimit = envInt("MATCHING_DEBUG_LIMIT", 3)

	cfg.MatchCTRLookbackDays = envInt("MATCH_CTR_LOOKBACK_DAYS", 14)
	cfg.MatchCTRWeight = envFloat("MATCH_CTR_WEIGHT", 1.0)
	cfg.MatchTargetingBonus = envFloat("MATCH_TARGETING_BONUS", 0.5)
	cfg.MatchRejectLookbackDays = envInt("MATCH_REJECT_LOOKBACK_DAYS", 7)
	cfg.MatchRejectPenaltyWeight = envFloat("MATCH_REJECT_PENALTY_WEIGHT", 1.0)

	cfg.MarketHealthWindowMinutes = envInt("MARKET_HEALTH_WINDOW_MINUTES", 60)
	cfg.MarketHealthStreakSample = envInt("MARKET_HEALTH_STREAK_SAMPLE", 10)
	cfg.MarketHealthFillLow = envFloat("MARKET_HEALTH_FILL_LOW", 0.5)
	cfg.MarketHealthFillHigh = envFloat("MARKET_HEALTH_FILL_HIGH", 0.8)
	cfg.MarketHealthRejectHealthy = envFloat("MARKET_HEALTH_REJECT_HEALTHY", 0.05)
	cfg.MarketHealthEligibleSupplyLow = envFloat("MARKET_HEALTH_ELIGIBLE_SUPPLY_LOW", 0.5)
	cfg.MarketHealthRejectVolatilityThreshold = envFloat("MARKET_HEALTH_REJECT_VOLATILITY_THRESHOLD", 0.1)
	cfg.MarketHealthUnfilledStreakThreshold = envInt("MARKET_HEALTH_UNFILLED_STREAK_THRESHOLD", 3)
	cfg.MarketHealthCacheTTL = envDuration("MARKET_HEALTH_CACHE_TTL", 500*time.Millisecond)

	cfg.AlphaProfitBoostLowFill = envFloat("ALPHA_PROFIT_BOOST_LOW_FILL", 0.2)
	cfg.AlphaProfitBoostLowSupply = envFloat("ALPHA_PROFIT_BOOST_LOW_SUPPLY", 0.1)
	cfg.BetaCTRBoostHealthy = envFloat("BETA_CTR_BOOST_HEALTHY", 0.1)
	cfg.GammaTargetingBoostLowFill = envFloat("GAMMA_TARGETING_BOOST_LOW_FILL", 0.1)
	cfg.GammaTargetingBoostUnfilled = envFloat("GAMMA_TARGETING_BOOST_UNFILLED", 0.1)
	cfg.DeltaQualityBoostLowFill = envFloat("DELTA_QUALITY_BOOST_LOW_FILL", 0.2)
	cfg.DeltaQualityBoostVolatility = envFloat("DELTA_QUALITY_BOOST_VOLATILITY", 0.1)

	cfg.PartnerQualityNewClicks = envInt("PARTNER_QUALITY_NEW_CLICKS", 10)
	cfg.PartnerQualityRecentDays = envInt("PARTNER_QUALITY_RECENT_DAYS", 1)
	cfg.PartnerQualityLongDays = envInt("PARTNER_QUALITY_LONG_DAYS", 7)
	cfg.PartnerQualityRiskyRejectRate = envFloat("PARTNER_QUALITY_RISKY_REJECT_RATE", 0.4)
	cfg.PartnerQualityRecoverRejectRate = envFloat("PARTNER_QUALITY_RECOVER_REJECT_RATE", 0.2)
	cfg.PartnerQualityDeltaNew = envFloat("PARTNER_QUALITY_DELTA_NEW", 0.5)
	cfg.PartnerQualityDeltaStable = envFloat("PARTNER_QUALITY_DELTA_STABLE", 1.0)
	cfg.PartnerQualityDeltaRisky = envFloat("PARTNER_QUALITY_DELTA_RISKY", 1.5)
	cfg.PartnerQualityDeltaRecovering = envFloat("PARTNER_QUALITY_DELTA_RECOVERING", 0.8)

	cfg.ExplorationRate = envFloat("EXPLORATION_RATE", 0.05)
	cfg.ExplorationBonus = envFloat("EXPLORATION_BONUS", 0.2)
	cfg.ExplorationNewPartnerRequests = envInt("EXPLORATION_NEW_PARTNER_REQUESTS", 5)
	cfg.ExplorationNewAdServes = envInt("EXPLORATION_NEW_AD_SERVES", 1)
	cfg.ExplorationMaxAdServes = envInt("EXPLORATION_MAX_AD_SERVES", 5)
	cfg.ExplorationLookbackDays = envInt("EXPLORATION_LOOKBACK_DAYS", 7)

	cfg.DeliveryLookbackDays = envInt("DELIVERY_LOOKBACK_DAYS", 7)
	cfg.DeliveryMinRequests = envInt("DELIVERY_MIN_REQUESTS", 10)
	cfg.DeliveryLowClickRate = envFloat("DELIVERY_LOW_CLICK_RATE", 0.01)
	cfg.DeliveryMinBudgetRemainingRatio = envFloat("DELIVERY_MIN_BUDGET_REMAINING_RATIO", 0.5)
	cfg.DeliveryBoostValue = envFloat("DELIVERY_BOOST_VALUE", 0.2)

	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0)

	return cfg
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. Accepted values are those
// supported by strconv.ParseBool. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}

// envDecimal parses a decimal environment variable. When unset or invalid,
// def is returned.
func envDecimal(key, def string) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(def)
}
