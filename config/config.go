package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server configuration
	Environment string

	// Redis configuration
	RedisURL string

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string
	LogChannel         string

	// Target site configuration
	BaseURL       string
	HomePath      string
	LoginPath     string
	ListingAPIURL string

	// Browser configuration
	Headless          bool
	NavigationTimeout time.Duration
	SelectorTimeout   time.Duration
	EvalTimeout       time.Duration
	LoginTimeout      time.Duration

	// Engine configuration
	WorkerPause     time.Duration
	RefreshInterval time.Duration
	ClaimBatchSize  int
	LoginBurst      int

	// Hold configuration
	HoldTTL         time.Duration
	ListingCacheTTL time.Duration

	// Monitoring
	EnableMetrics bool
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL: getEnv("REDIS_URL", "localhost:6379"),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),
		LogChannel:         getEnv("LOG_CHANNEL", "scraper-log"),

		// Target site
		BaseURL:       getEnv("WEBOOK_BASE_URL", "https://webook.com"),
		HomePath:      getEnv("WEBOOK_HOME_PATH", "/en"),
		LoginPath:     getEnv("WEBOOK_LOGIN_PATH", "/en/login/"),
		ListingAPIURL: getEnv("WEBOOK_LISTING_API_URL", "https://api.webook.com/api/v2/event"),

		// Browser
		Headless:          getEnvAsBool("BROWSER_HEADLESS", true),
		NavigationTimeout: getEnvAsDuration("NAVIGATION_TIMEOUT", "80s"),
		SelectorTimeout:   getEnvAsDuration("SELECTOR_TIMEOUT", "6s"),
		EvalTimeout:       getEnvAsDuration("EVAL_TIMEOUT", "15s"),
		LoginTimeout:      getEnvAsDuration("LOGIN_TIMEOUT", "90s"),

		// Engine
		WorkerPause:     getEnvAsDuration("WORKER_PAUSE", "2s"),
		RefreshInterval: getEnvAsDuration("REFRESH_INTERVAL", "2m"),
		ClaimBatchSize:  getEnvAsInt("CLAIM_BATCH_SIZE", 5),
		LoginBurst:      getEnvAsInt("LOGIN_BURST", 3),

		// Holds
		HoldTTL:         getEnvAsDuration("HOLD_TTL", "10m"),
		ListingCacheTTL: getEnvAsDuration("LISTING_CACHE_TTL", "5m"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
