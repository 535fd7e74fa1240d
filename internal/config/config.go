// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	GRPCPort    string
	FrontendURL string
	DBPath      string

	// APIKey is the process-level default credential. A key stored through
	// the settings API takes precedence.
	APIKey     string
	ChatModel  string
	ImageModel string

	Sandbox         SandboxConfig
	ConversationLog ConversationLogConfig
	Telemetry       TelemetryConfig
}

// SandboxConfig controls the code execution runtime.
type SandboxConfig struct {
	Enabled       bool
	Image         string
	Runtime       string // Docker runtime: "" = default (runc), "runsc" = gVisor
	Timeout       time.Duration
	MaxConcurrent int
	ReapAfter     time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	QueueSize  int
}

// TelemetryConfig controls dispatch metrics export.
type TelemetryConfig struct {
	Enabled  bool
	Path     string
	Interval time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	apiKey := getEnv("GEMINI_API_KEY", "")
	if apiKey == "" {
		apiKey = getEnv("API_KEY", "")
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		GRPCPort:    getEnv("GRPC_PORT", "9090"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/buddy.db"),
		APIKey:      strings.TrimSpace(apiKey),
		ChatModel:   getEnv("CHAT_MODEL", "gemini-3-pro-preview"),
		ImageModel:  getEnv("IMAGE_MODEL", "gemini-2.5-flash-image"),
		Sandbox: SandboxConfig{
			Enabled:       getEnvBool("SANDBOX_ENABLED", true),
			Image:         getEnv("SANDBOX_IMAGE", "python:3.12-slim"),
			Runtime:       getEnv("SANDBOX_RUNTIME", ""),
			Timeout:       getEnvDuration("SANDBOX_TIMEOUT", 10*time.Second),
			MaxConcurrent: getEnvInt("SANDBOX_MAX_CONCURRENT", 2),
			ReapAfter:     getEnvDuration("SANDBOX_REAP_AFTER", 15*time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:    getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Path:       getEnv("CONVERSATION_LOG_PATH", "./data/logs/conversation.ndjson"),
			MaxSizeMB:  getEnvInt("CONVERSATION_LOG_MAX_SIZE_MB", 50),
			MaxBackups: getEnvInt("CONVERSATION_LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvInt("CONVERSATION_LOG_MAX_AGE_DAYS", 30),
			QueueSize:  queueSize,
		},
		Telemetry: TelemetryConfig{
			Enabled:  getEnvBool("TELEMETRY_ENABLED", false),
			Path:     getEnv("TELEMETRY_PATH", "./data/logs/metrics.ndjson"),
			Interval: getEnvDuration("TELEMETRY_INTERVAL", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.GRPCPort == "" {
		return fmt.Errorf("GRPC_PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.ChatModel == "" || c.ImageModel == "" {
		return fmt.Errorf("CHAT_MODEL and IMAGE_MODEL cannot be empty")
	}
	if c.Sandbox.Enabled {
		if c.Sandbox.Image == "" {
			return fmt.Errorf("SANDBOX_IMAGE cannot be empty")
		}
		if c.Sandbox.Timeout <= 0 {
			return fmt.Errorf("SANDBOX_TIMEOUT must be > 0")
		}
		if c.Sandbox.MaxConcurrent <= 0 {
			return fmt.Errorf("SANDBOX_MAX_CONCURRENT must be > 0")
		}
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Path == "" {
		return fmt.Errorf("CONVERSATION_LOG_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	if c.Telemetry.Enabled {
		if c.Telemetry.Path == "" {
			return fmt.Errorf("TELEMETRY_PATH cannot be empty")
		}
		if c.Telemetry.Interval <= 0 {
			return fmt.Errorf("TELEMETRY_INTERVAL must be > 0")
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the API.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	origins := strings.Split(c.FrontendURL, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	return origins
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
