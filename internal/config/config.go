package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Dan9191/commit-health/internal/health"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	Port     string
	DBConn   string
	LogLevel string

	JWTSecret         string
	AdminEmail        string
	AdminPasswordHash string // bcrypt

	MetronomeURL    string
	MetronomeAPIKey string
	MetronomeRPS    float64
	WebhookSecret   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	SyncSchedule string

	SMTPHost        string
	SMTPPort        string
	SMTPUsername    string
	SMTPPassword    string
	SenderEmail     string
	AlertRecipients []string

	ThresholdsFile string
	Policy         health.Policy
	Display        health.DisplayPolicy
}

// Thresholds is the layout of the optional THRESHOLDS_FILE
type Thresholds struct {
	Classifier health.Policy        `yaml:"classifier"`
	Display    health.DisplayPolicy `yaml:"display"`
}

// NewConfig loads configuration from a .env file (if present) and environment variables
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		DBConn:            getEnv("DB_CONN", "host=localhost port=5436 user=test password=test dbname=gtm sslmode=disable"),
		LogLevel:          getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:         getEnv("JWT_SECRET", "secret"),
		AdminEmail:        getEnv("ADMIN_EMAIL", "admin@example.com"),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		MetronomeURL:      strings.TrimRight(getEnv("METRONOME_API_URL", "https://api.metronome.com/v1"), "/"),
		MetronomeAPIKey:   getEnv("METRONOME_API_KEY", ""),
		WebhookSecret:     getEnv("METRONOME_WEBHOOK_SECRET", ""),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		SyncSchedule:      getEnv("SYNC_SCHEDULE", "@every 1h"),
		SMTPHost:          getEnv("SMTP_HOST", ""),
		SMTPPort:          getEnv("SMTP_PORT", "587"),
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),
		SenderEmail:       getEnv("SENDER_EMAIL", "gtm-alerts@example.com"),
		AlertRecipients:   splitList(getEnv("ALERT_RECIPIENTS", "")),
		ThresholdsFile:    getEnv("THRESHOLDS_FILE", ""),
		Policy:            health.DefaultPolicy(),
		Display:           health.DefaultDisplayPolicy(),
	}

	var err error
	if cfg.MetronomeRPS, err = strconv.ParseFloat(getEnv("METRONOME_RPS", "5"), 64); err != nil {
		return nil, fmt.Errorf("invalid METRONOME_RPS: %w", err)
	}
	if cfg.RedisDB, err = strconv.Atoi(getEnv("REDIS_DB", "0")); err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	if cfg.CacheTTL, err = time.ParseDuration(getEnv("CACHE_TTL", "15m")); err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL: %w", err)
	}

	if cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.MetronomeRPS <= 0 {
		return nil, fmt.Errorf("METRONOME_RPS must be positive")
	}

	if cfg.ThresholdsFile != "" {
		if err := cfg.loadThresholds(cfg.ThresholdsFile); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// loadThresholds overrides the default thresholds with values present in the file
func (c *Config) loadThresholds(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read thresholds file: %w", err)
	}
	t := Thresholds{Classifier: c.Policy, Display: c.Display}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("failed to parse thresholds file: %w", err)
	}
	if t.Classifier.UnderConsumingRatio >= t.Classifier.OverConsumingRatio {
		return fmt.Errorf("under_consuming_ratio must be below over_consuming_ratio")
	}
	c.Policy = t.Classifier
	c.Display = t.Display
	return nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
