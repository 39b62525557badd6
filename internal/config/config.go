package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// BucketSpec is the shape of one rate-limit bucket: at most MaxRequests
// tokens per interval window. IntervalMS is milliseconds so the same shape
// round-trips through JSON config blobs and the admin API.
type BucketSpec struct {
	IntervalMS  int64 `json:"interval_ms"`
	MaxRequests int   `json:"max_requests"`
}

// Interval returns the refill window as a duration.
func (b BucketSpec) Interval() time.Duration {
	return time.Duration(b.IntervalMS) * time.Millisecond
}

// RateLimits holds the four bucket specs the marketplace imposes.
type RateLimits struct {
	Global     BucketSpec `json:"global"`
	Catalog    BucketSpec `json:"catalog"`
	Competitor BucketSpec `json:"competitor"`
	Care       BucketSpec `json:"care"`
}

// Config holds application settings sourced from the environment.
type Config struct {
	// Marketplace API access.
	APIBaseURL    string
	APIToken      string
	WebhookSecret string

	// Rate limits (overridable per bucket via env).
	RateLimits RateLimits

	// Pricing strategy defaults.
	DefaultCountry string  // used when a listing has no active country markets
	PriceStep      string  // default undercut delta, decimal string
	MaxAgeHours    float64 // competitor price staleness cutoff
	VelocityDays   int     // window for units-sold velocity
	BuybackRate    float64 // fraction of recent sale average offered for buyback

	// Probe behaviour.
	ProbeSettle time.Duration
	ProbeFloor  string // minimum permissible dip price, decimal string
}

// Validate checks invariants that would otherwise fail deep inside a task.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("API base URL must not be empty")
	}
	for name, b := range map[string]BucketSpec{
		"global": c.RateLimits.Global, "catalog": c.RateLimits.Catalog,
		"competitor": c.RateLimits.Competitor, "care": c.RateLimits.Care,
	} {
		if b.IntervalMS <= 0 || b.MaxRequests <= 0 {
			return fmt.Errorf("bucket %s: interval and max_requests must be positive", name)
		}
	}
	if c.BuybackRate < 0 || c.BuybackRate >= 1 {
		return fmt.Errorf("buyback rate must be in [0,1)")
	}
	return nil
}

// FromEnv builds a Config from environment variables, falling back to
// the documented defaults.
func FromEnv() *Config {
	return &Config{
		APIBaseURL:    envOr("MARKET_API_BASE_URL", "https://www.backmarket.fr"),
		APIToken:      os.Getenv("MARKET_API_TOKEN"),
		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),
		RateLimits: RateLimits{
			Global:     bucketFromEnv("RATE_GLOBAL", 10*time.Second, 150),
			Catalog:    bucketFromEnv("RATE_CATALOG", 10*time.Second, 15),
			Competitor: bucketFromEnv("RATE_COMPETITOR", time.Second, 2),
			Care:       bucketFromEnv("RATE_CARE", 60*time.Second, 300),
		},
		DefaultCountry: envOr("DEFAULT_COUNTRY", "FR"),
		PriceStep:      envOr("PRICE_STEP", "0.01"),
		MaxAgeHours:    envFloat("COMPETITOR_MAX_AGE_HOURS", 6),
		VelocityDays:   envInt("VELOCITY_WINDOW_DAYS", 30),
		BuybackRate:    envFloat("BUYBACK_RATE", 0.60),
		ProbeSettle:    time.Duration(envInt("PROBE_SETTLE_MS", 3000)) * time.Millisecond,
		ProbeFloor:     envOr("PROBE_MIN_PRICE", "1.00"),
	}
}

// bucketFromEnv reads <prefix>_INTERVAL_MS and <prefix>_MAX_REQUESTS.
func bucketFromEnv(prefix string, interval time.Duration, maxReq int) BucketSpec {
	return BucketSpec{
		IntervalMS:  int64(envInt(prefix+"_INTERVAL_MS", int(interval/time.Millisecond))),
		MaxRequests: envInt(prefix+"_MAX_REQUESTS", maxReq),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
