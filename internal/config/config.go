package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Provider endpoints. Base URLs are overridable so tests and staging
	// can point adapters at local fixtures.
	USGSBaseURL    string
	NCSBaseURL     string
	GNewsBaseURL   string
	GNewsToken     string
	OutlookBaseURL string
	OutlookToken   string
	OutlookModel   string

	ProviderTimeout time.Duration
	TierTimeouts    []time.Duration
	RefreshTimeout  time.Duration

	// Feed freshness. Live seismic feeds turn over in minutes; narrative
	// and model-derived feeds are allowed to age longer.
	RecentTTL     time.Duration
	HistoricalTTL time.Duration
	NewsTTL       time.Duration

	// Ranking policy.
	PriorityRatio int
	OtherRatio    int
	DefaultLimit  int
	MaxLimit      int

	// Daily call budgets for metered providers.
	GNewsDailyLimit   int
	OutlookDailyLimit int

	// Optional snapshot publishing.
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := durationEnv("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	providerTimeout, err := durationEnv("PROVIDER_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	tierTimeouts, err := tierTimeoutsEnv("TIER_TIMEOUTS", []time.Duration{
		3 * time.Second, 5 * time.Second, 8 * time.Second, 15 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	refreshTimeout, err := durationEnv("REFRESH_TIMEOUT", 45*time.Second)
	if err != nil {
		return nil, err
	}
	recentTTL, err := durationEnv("RECENT_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	historicalTTL, err := durationEnv("HISTORICAL_TTL", 30*time.Minute)
	if err != nil {
		return nil, err
	}
	newsTTL, err := durationEnv("NEWS_TTL", time.Hour)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		USGSBaseURL:    envOrDefault("USGS_BASE_URL", "https://earthquake.usgs.gov"),
		NCSBaseURL:     envOrDefault("NCS_BASE_URL", "https://riseq.seismo.gov.in"),
		GNewsBaseURL:   envOrDefault("GNEWS_BASE_URL", "https://gnews.io"),
		GNewsToken:     os.Getenv("GNEWS_TOKEN"),
		OutlookBaseURL: envOrDefault("OUTLOOK_BASE_URL", "https://api.openai.com"),
		OutlookToken:   os.Getenv("OUTLOOK_TOKEN"),
		OutlookModel:   envOrDefault("OUTLOOK_MODEL", "gpt-4o-mini"),

		ProviderTimeout: providerTimeout,
		TierTimeouts:    tierTimeouts,
		RefreshTimeout:  refreshTimeout,

		RecentTTL:     recentTTL,
		HistoricalTTL: historicalTTL,
		NewsTTL:       newsTTL,

		PriorityRatio: intEnv("PRIORITY_RATIO", 3),
		OtherRatio:    intEnv("OTHER_RATIO", 2),
		DefaultLimit:  intEnv("FEED_DEFAULT_LIMIT", 20),
		MaxLimit:      intEnv("FEED_MAX_LIMIT", 100),

		GNewsDailyLimit:   intEnv("GNEWS_DAILY_LIMIT", 90),
		OutlookDailyLimit: intEnv("OUTLOOK_DAILY_LIMIT", 24),

		KafkaEnabled: os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers: splitCSV(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   envOrDefault("KAFKA_TOPIC", "ranked-safety-events"),
	}

	if cfg.PriorityRatio <= 0 || cfg.OtherRatio <= 0 {
		return nil, errors.New("PRIORITY_RATIO and OTHER_RATIO must be positive")
	}
	if cfg.DefaultLimit <= 0 || cfg.MaxLimit < cfg.DefaultLimit {
		return nil, errors.New("FEED_MAX_LIMIT must be >= FEED_DEFAULT_LIMIT > 0")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func intEnv(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// tierTimeoutsEnv parses a comma-separated duration list, e.g. "3s,5s,8s,15s".
// Tier timeouts must be increasing: later tiers hold the slower sources.
func tierTimeoutsEnv(key string, fallback []time.Duration) ([]time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	parts := splitCSV(s)
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(p)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid %s entry: %q", key, p)
		}
		if len(out) > 0 && d < out[len(out)-1] {
			return nil, fmt.Errorf("%s must be non-decreasing", key)
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s is empty", key)
	}
	return out, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
