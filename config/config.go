package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // scheduler timezones in minimal containers

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"stock-anomaly/detection"
)

// Config holds application configuration
type Config struct {
	LogLevel  string
	LogFormat string

	// Database configuration
	DatabaseHost     string
	DatabasePort     int
	DatabaseName     string
	DatabaseUser     string
	DatabasePassword string

	// Redis configuration
	RedisHost     string
	RedisPassword string
	RedisPort     int
	RedisDB       int

	API        APIConfig
	MarketData MarketDataConfig
	Detection  DetectionConfig
	Scheduler  SchedulerConfig
	Alerts     AlertsConfig

	// Symbols tracked by the collector and seeded on startup
	Symbols []string
}

// APIConfig holds HTTP server settings
type APIConfig struct {
	Port       int
	CORSOrigin string
}

// MarketDataConfig selects and configures the daily bar provider
type MarketDataConfig struct {
	Provider      string // polygon or twelvedata
	PolygonAPIKey string
	PolygonURL    string
	TwelveDataKey string
	TwelveDataURL string
	RequestsPerS  float64
	Burst         int
	Timeout       time.Duration
}

// DetectionConfig holds engine parameters plus scan settings
type DetectionConfig struct {
	Hybrid          detection.HybridConfig
	LookbackDays    int
	AlertWindowDays int
	MaxConcurrent   int
	ScanTimeout     time.Duration
	ConfigFile      string
}

// SchedulerConfig controls the daily collection job
type SchedulerConfig struct {
	Enabled       bool
	RunAt         string // HH:MM in Timezone
	Timezone      string
	RecentDays    int
	BackfillYears int
}

// AlertsConfig holds notification channels
type AlertsConfig struct {
	MinScore float64

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	EmailFrom    string
	EmailTo      []string

	TelegramToken  string
	TelegramChatID int64

	SlackWebhookURL   string
	DiscordWebhookURL string
}

// DefaultSymbols are tracked when SYMBOLS is unset
var DefaultSymbols = []string{"AAPL", "MSFT", "GOOGL", "AMZN", "NVDA", "META", "TSLA"}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	}

	cfg := &Config{
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "console"),

		// Database configuration
		DatabaseHost:     getEnvOrDefault("DB_HOST", "localhost"),
		DatabasePort:     getEnvInt("DB_PORT", 5432),
		DatabaseName:     getEnvOrDefault("DB_NAME", "stock_anomaly"),
		DatabaseUser:     getEnvOrDefault("DB_USER", "postgres"),
		DatabasePassword: getEnvOrDefault("DB_PASSWORD", "postgres"),

		// Redis configuration
		RedisHost:     getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvInt("REDIS_PORT", 6379),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		API: APIConfig{
			Port:       getEnvInt("API_PORT", 8000),
			CORSOrigin: getEnvOrDefault("CORS_ORIGIN", "http://localhost:3000"),
		},

		MarketData: MarketDataConfig{
			Provider:      getEnvOrDefault("MARKET_DATA_PROVIDER", "polygon"),
			PolygonAPIKey: getEnvOrDefault("POLYGON_API_KEY", ""),
			PolygonURL:    getEnvOrDefault("POLYGON_BASE_URL", "https://api.polygon.io"),
			TwelveDataKey: getEnvOrDefault("TWELVEDATA_API_KEY", ""),
			TwelveDataURL: getEnvOrDefault("TWELVEDATA_BASE_URL", "https://api.twelvedata.com"),
			RequestsPerS:  getEnvFloat("MARKET_DATA_RPS", 5),
			Burst:         getEnvInt("MARKET_DATA_BURST", 5),
			Timeout:       time.Duration(getEnvInt("MARKET_DATA_TIMEOUT_SECONDS", 30)) * time.Second,
		},

		Detection: DetectionConfig{
			Hybrid:          hybridFromEnv(),
			LookbackDays:    getEnvInt("DETECTION_LOOKBACK_DAYS", 365),
			AlertWindowDays: getEnvInt("ALERT_WINDOW_DAYS", 1),
			MaxConcurrent:   getEnvInt("DETECTION_MAX_CONCURRENT", 2),
			ScanTimeout:     time.Duration(getEnvInt("DETECTION_TIMEOUT_SECONDS", 120)) * time.Second,
			ConfigFile:      getEnvOrDefault("DETECTION_CONFIG_FILE", ""),
		},

		Scheduler: SchedulerConfig{
			Enabled:       getEnvBool("SCHEDULER_ENABLED", true),
			RunAt:         getEnvOrDefault("SCHEDULER_RUN_AT", "21:00"),
			Timezone:      getEnvOrDefault("SCHEDULER_TIMEZONE", "Asia/Kolkata"),
			RecentDays:    getEnvInt("COLLECT_RECENT_DAYS", 5),
			BackfillYears: getEnvInt("BACKFILL_YEARS", 3),
		},

		Alerts: AlertsConfig{
			MinScore: getEnvFloat("ALERT_MIN_SCORE", 0),

			SMTPHost:     getEnvOrDefault("SMTP_HOST", "smtp.gmail.com"),
			SMTPPort:     getEnvInt("SMTP_PORT", 587),
			SMTPUser:     getEnvOrDefault("SMTP_USER", ""),
			SMTPPassword: getEnvOrDefault("SMTP_PASSWORD", ""),
			EmailFrom:    getEnvOrDefault("EMAIL_FROM", ""),
			EmailTo:      getEnvList("EMAIL_TO", nil),

			TelegramToken:  getEnvOrDefault("TELEGRAM_BOT_TOKEN", ""),
			TelegramChatID: int64(getEnvInt("TELEGRAM_CHAT_ID", 0)),

			SlackWebhookURL:   getEnvOrDefault("SLACK_WEBHOOK_URL", ""),
			DiscordWebhookURL: getEnvOrDefault("DISCORD_WEBHOOK_URL", ""),
		},

		Symbols: normalizeSymbols(getEnvList("SYMBOLS", DefaultSymbols)),
	}

	if cfg.Detection.ConfigFile != "" {
		if err := cfg.ApplyDetectionFile(cfg.Detection.ConfigFile); err != nil {
			log.Warn().Err(err).Str("file", cfg.Detection.ConfigFile).Msg("Ignoring detection config file")
		}
	}

	return cfg
}

// hybridFromEnv builds engine parameters from the environment on top of the defaults
func hybridFromEnv() detection.HybridConfig {
	h := detection.DefaultHybridConfig()
	h.Statistical.WindowSize = getEnvInt("DETECTION_WINDOW_SIZE", h.Statistical.WindowSize)
	h.Statistical.NumStd = getEnvFloat("DETECTION_NUM_STD", h.Statistical.NumStd)
	h.Outlier.Contamination = getEnvFloat("DETECTION_CONTAMINATION", h.Outlier.Contamination)
	h.Sequence.SequenceLength = getEnvInt("DETECTION_SEQUENCE_LENGTH", h.Sequence.SequenceLength)
	h.Sequence.Threshold = getEnvFloat("DETECTION_LSTM_THRESHOLD", h.Sequence.Threshold)
	h.Sequence.Epochs = getEnvInt("DETECTION_LSTM_EPOCHS", h.Sequence.Epochs)
	h.Sequence.HiddenUnits = getEnvInt("DETECTION_LSTM_UNITS", h.Sequence.HiddenUnits)
	h.MinMethods = getEnvInt("DETECTION_MIN_METHODS", h.MinMethods)
	return h
}

// detectionFile is the YAML layout of DETECTION_CONFIG_FILE. Omitted sections keep their values.
type detectionFile struct {
	Hybrid          *detection.HybridConfig `yaml:"hybrid"`
	LookbackDays    *int                    `yaml:"lookback_days"`
	AlertWindowDays *int                    `yaml:"alert_window_days"`
	Symbols         []string                `yaml:"symbols"`
}

// ApplyDetectionFile overlays detection parameters and symbols from a YAML file
func (c *Config) ApplyDetectionFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read detection config: %w", err)
	}

	// method_weights replaces the configured map; yaml.v3 would otherwise merge into it
	hybrid := c.Detection.Hybrid
	hybrid.MethodWeights = nil
	file := detectionFile{Hybrid: &hybrid}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to unmarshal detection config: %w", err)
	}
	if hybrid.MethodWeights == nil {
		hybrid.MethodWeights = c.Detection.Hybrid.MethodWeights
	}
	c.Detection.Hybrid = hybrid

	if file.LookbackDays != nil {
		c.Detection.LookbackDays = *file.LookbackDays
	}
	if file.AlertWindowDays != nil {
		c.Detection.AlertWindowDays = *file.AlertWindowDays
	}
	if len(file.Symbols) > 0 {
		c.Symbols = normalizeSymbols(file.Symbols)
	}
	return nil
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if err := c.Detection.Hybrid.Validate(); err != nil {
		return err
	}
	if c.Detection.LookbackDays < 1 {
		return &ValidationError{Field: "DETECTION_LOOKBACK_DAYS", Reason: "must be positive", Value: c.Detection.LookbackDays}
	}
	if c.Detection.MaxConcurrent < 1 {
		return &ValidationError{Field: "DETECTION_MAX_CONCURRENT", Reason: "must be positive", Value: c.Detection.MaxConcurrent}
	}
	if _, _, err := c.Scheduler.Clock(); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return &ValidationError{Field: "SCHEDULER_TIMEZONE", Reason: err.Error(), Value: c.Scheduler.Timezone}
	}
	switch c.MarketData.Provider {
	case "polygon", "twelvedata":
	default:
		return &ValidationError{Field: "MARKET_DATA_PROVIDER", Reason: "must be polygon or twelvedata", Value: c.MarketData.Provider}
	}
	return nil
}

// Clock parses RunAt into hour and minute
func (s SchedulerConfig) Clock() (hour, minute int, err error) {
	if _, err := fmt.Sscanf(s.RunAt, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, &ValidationError{Field: "SCHEDULER_RUN_AT", Reason: "expected HH:MM", Value: s.RunAt}
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, &ValidationError{Field: "SCHEDULER_RUN_AT", Reason: "out of range", Value: s.RunAt}
	}
	return hour, minute, nil
}

// EmailEnabled reports whether SMTP alerts are configured
func (a AlertsConfig) EmailEnabled() bool {
	return a.SMTPUser != "" && a.SMTPPassword != "" && len(a.EmailTo) > 0
}

// TelegramEnabled reports whether Telegram alerts are configured
func (a AlertsConfig) TelegramEnabled() bool {
	return a.TelegramToken != "" && a.TelegramChatID != 0
}

// ValidationError represents an invalid configuration value
type ValidationError struct {
	Field  string
	Reason string
	Value  interface{}
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config %s: %s (value: %v)", e.Field, e.Reason, e.Value)
}

// getEnvInt gets environment variable as int or returns default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvFloat gets environment variable as float64 or returns default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var floatValue float64
	if _, err := fmt.Sscanf(value, "%f", &floatValue); err != nil {
		return defaultValue
	}
	return floatValue
}

// getEnvBool treats "true" and "1" as true
func getEnvBool(key string, defaultValue bool) bool {
	value := strings.ToLower(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1"
}

// getEnvList splits a comma separated variable
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// normalizeSymbols trims and upper-cases tickers, dropping blanks
func normalizeSymbols(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToUpper(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
