// Package config loads service configuration from defaults, an optional YAML
// file and the environment (in that order of precedence, low to high).
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all process configuration.
type Config struct {
	DatabaseURL    string `koanf:"database_url"`
	DatabaseDriver string `koanf:"database_driver"` // postgres | sqlite
	ListenAddr     string `koanf:"listen_addr"`
	ServiceToken   string `koanf:"service_token"`
	AllowedOrigins string `koanf:"allowed_origins"`
	LogMode        string `koanf:"log_mode"`

	// Region bucketing
	RegionCellDegrees float64 `koanf:"region_cell_degrees"`
	DefaultTimezone   string  `koanf:"default_timezone"`

	// Sampling policy
	DailyCount       int     `koanf:"daily_count"`
	WeeklyCount      int     `koanf:"weekly_count"`
	MaxRequiredCount int     `koanf:"max_required_count"`
	RarityFloor      float64 `koanf:"rarity_floor"`
	RareThreshold    float64 `koanf:"rare_threshold"`
	RareBoost        float64 `koanf:"rare_boost"`
	ExcludeMastered  bool    `koanf:"exclude_mastered"`

	// XP policy
	DailyXPWeight  int64 `koanf:"daily_xp_weight"`
	WeeklyXPWeight int64 `koanf:"weekly_xp_weight"`

	// AI manifest generator (OpenAI-compatible chat completions)
	AIBaseURL string        `koanf:"ai_base_url"`
	AIAPIKey  string        `koanf:"ai_api_key"`
	AIModel   string        `koanf:"ai_model"`
	AITimeout time.Duration `koanf:"ai_timeout"`

	// Reverse geocoder
	GeocoderBaseURL   string        `koanf:"geocoder_base_url"`
	GeocoderUserAgent string        `koanf:"geocoder_user_agent"`
	GeocoderCacheTTL  time.Duration `koanf:"geocoder_cache_ttl"`

	// Upstream sync services
	CatalogServiceURL       string        `koanf:"catalog_service_url"`
	SightingServiceURL      string        `koanf:"sighting_service_url"`
	CatalogSyncInterval     time.Duration `koanf:"catalog_sync_interval"`
	SightingPollInterval    time.Duration `koanf:"sighting_poll_interval"`
	SightingLedgerRetention time.Duration `koanf:"sighting_ledger_retention"`

	// Challenge events
	RedisAddr    string `koanf:"redis_addr"`
	RedisChannel string `koanf:"redis_channel"`

	// Manifest archive (Cloudflare R2)
	CloudflareAccountID string `koanf:"cloudflare_account_id"`
	R2AccessKeyID       string `koanf:"r2_access_key_id"`
	R2AccessKeySecret   string `koanf:"r2_access_key_secret"`
	R2BucketName        string `koanf:"r2_bucket_name"`
}

// Defaults returns a Config populated with built-in defaults.
func Defaults() *Config {
	return &Config{
		DatabaseDriver:          "postgres",
		ListenAddr:              ":5200",
		AllowedOrigins:          "http://localhost:3000",
		LogMode:                 "development",
		RegionCellDegrees:       0.25,
		DefaultTimezone:         "UTC",
		DailyCount:              3,
		WeeklyCount:             6,
		MaxRequiredCount:        3,
		RarityFloor:             8,
		RareThreshold:           20,
		RareBoost:               15,
		DailyXPWeight:           1,
		WeeklyXPWeight:          2,
		AIBaseURL:               "https://api.openai.com/v1",
		AIModel:                 "gpt-4o-mini",
		AITimeout:               45 * time.Second,
		GeocoderBaseURL:         "https://nominatim.openstreetmap.org",
		GeocoderUserAgent:       "wildlife-challenge-system/1.0",
		GeocoderCacheTTL:        24 * time.Hour,
		CatalogSyncInterval:     5 * time.Minute,
		SightingPollInterval:    15 * time.Second,
		SightingLedgerRetention: 180 * 24 * time.Hour,
		RedisChannel:            "challenge-events",
	}
}

// Load builds a Config by layering defaults, the optional file named by
// CONFIG_FILE, and environment variables (DATABASE_URL, DAILY_COUNT, ...).
// A .env file in the working directory is loaded into the environment first.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	k := koanf.New(".")

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Flat keys: DAILY_COUNT -> daily_count
	envProvider := env.Provider("", ".", strings.ToLower)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := *Defaults()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.AllowedOrigins = normalizeOrigins(cfg.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL must be set"))
	}
	if c.ServiceToken == "" {
		errs = append(errs, errors.New("SERVICE_TOKEN must be set"))
	}
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported database_driver %q", c.DatabaseDriver))
	}
	if c.RegionCellDegrees <= 0 || c.RegionCellDegrees > 5 {
		errs = append(errs, fmt.Errorf("region_cell_degrees must be in (0, 5], got %v", c.RegionCellDegrees))
	}
	if c.DailyCount <= 0 || c.WeeklyCount <= 0 {
		errs = append(errs, errors.New("daily_count and weekly_count must be positive"))
	}
	if c.MaxRequiredCount < 1 {
		errs = append(errs, errors.New("max_required_count must be at least 1"))
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		errs = append(errs, fmt.Errorf("default_timezone: %w", err))
	}
	return errors.Join(errs...)
}

// normalizeOrigins trims spaces around each comma separated origin.
func normalizeOrigins(raw string) string {
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ",")
}
