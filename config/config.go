package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Browser modes
const (
	BrowserModeCDP    = "cdp"
	BrowserModeLaunch = "launch"
	BrowserModeDocker = "docker"
)

// Memory store backends
const (
	MemoryStoreSQLite = "sqlite"
	MemoryStoreMySQL  = "mysql"
	MemoryStoreMemory = "memory"
	MemoryStoreNone   = "none"
)

// Config holds all configuration for the agent
type Config struct {
	// Server settings
	Port         int
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Security
	AllowedOrigins []string
	RateLimitRPS   int

	// Logging
	LogLevel string
	LogFile  string

	// Language model
	OpenAIAPIKey  string
	OpenAIBaseURL string
	LLMMaxRetries int
	AgentModel    string
	MemoryModel   string
	AgentMaxSteps int

	// Browser
	BrowserMode     string
	CDPURL          string
	BrowserHeadless bool
	DockerImage     string

	// Memory insights
	MemoryStore string
	SQLitePath  string
	MySQLDSN    string

	// Task lifecycle
	LogGracePeriod    time.Duration
	TaskRetention     time.Duration
	RetentionSchedule string

	EnvFile string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 8000)
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("READ_TIMEOUT_SECONDS", 30)
	v.SetDefault("WRITE_TIMEOUT_SECONDS", 0)
	v.SetDefault("ALLOWED_ORIGINS", "*")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("OPENAI_BASE_URL", "")
	v.SetDefault("OPENAI_MAX_RETRIES", 2)
	v.SetDefault("AGENT_MODEL", "gpt-4.1-mini")
	v.SetDefault("MEMORY_MODEL", "gpt-4.1-mini")
	v.SetDefault("AGENT_MAX_STEPS", 25)
	v.SetDefault("BROWSER_MODE", BrowserModeCDP)
	v.SetDefault("CDP_URL", "http://localhost:9222")
	v.SetDefault("BROWSER_HEADLESS", true)
	v.SetDefault("BROWSER_DOCKER_IMAGE", "chromedp/headless-shell:latest")
	v.SetDefault("MEMORY_STORE", MemoryStoreSQLite)
	v.SetDefault("SQLITE_PATH", "memories.db")
	v.SetDefault("MYSQL_DSN", "")
	v.SetDefault("LOG_GRACE_SECONDS", 300)
	v.SetDefault("TASK_RETENTION_MINUTES", 0)
	v.SetDefault("RETENTION_SCHEDULE", "@every 1m")
}

// LoadFrom reads configuration through v. Callers may bind command-line
// flags to v before calling; bound flags take precedence over the environment.
func LoadFrom(v *viper.Viper) (*Config, error) {
	envFile := v.GetString("ENV_FILE")
	if envFile == "" {
		envFile = getEnvFile()
	}

	// Load .env file if it exists
	_ = godotenv.Load(envFile)

	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		Port:              v.GetInt("PORT"),
		Host:              v.GetString("HOST"),
		ReadTimeout:       time.Duration(v.GetInt("READ_TIMEOUT_SECONDS")) * time.Second,
		WriteTimeout:      time.Duration(v.GetInt("WRITE_TIMEOUT_SECONDS")) * time.Second,
		AllowedOrigins:    splitList(v.GetString("ALLOWED_ORIGINS")),
		RateLimitRPS:      v.GetInt("RATE_LIMIT_RPS"),
		LogLevel:          strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFile:           v.GetString("LOG_FILE"),
		OpenAIAPIKey:      v.GetString("OPENAI_API_KEY"),
		OpenAIBaseURL:     v.GetString("OPENAI_BASE_URL"),
		LLMMaxRetries:     v.GetInt("OPENAI_MAX_RETRIES"),
		AgentModel:        v.GetString("AGENT_MODEL"),
		MemoryModel:       v.GetString("MEMORY_MODEL"),
		AgentMaxSteps:     v.GetInt("AGENT_MAX_STEPS"),
		BrowserMode:       strings.ToLower(v.GetString("BROWSER_MODE")),
		CDPURL:            v.GetString("CDP_URL"),
		BrowserHeadless:   v.GetBool("BROWSER_HEADLESS"),
		DockerImage:       v.GetString("BROWSER_DOCKER_IMAGE"),
		MemoryStore:       strings.ToLower(v.GetString("MEMORY_STORE")),
		SQLitePath:        v.GetString("SQLITE_PATH"),
		MySQLDSN:          v.GetString("MYSQL_DSN"),
		LogGracePeriod:    time.Duration(v.GetInt("LOG_GRACE_SECONDS")) * time.Second,
		TaskRetention:     time.Duration(v.GetInt("TASK_RETENTION_MINUTES")) * time.Minute,
		RetentionSchedule: v.GetString("RETENTION_SCHEDULE"),
		EnvFile:           envFile,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail later at startup
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}

	switch c.BrowserMode {
	case BrowserModeCDP, BrowserModeLaunch, BrowserModeDocker:
	default:
		return fmt.Errorf("invalid BROWSER_MODE %q (expected cdp, launch or docker)", c.BrowserMode)
	}

	switch c.MemoryStore {
	case MemoryStoreSQLite, MemoryStoreMemory, MemoryStoreNone:
	case MemoryStoreMySQL:
		if c.MySQLDSN == "" {
			return fmt.Errorf("MYSQL_DSN is required when MEMORY_STORE=mysql")
		}
	default:
		return fmt.Errorf("invalid MEMORY_STORE %q", c.MemoryStore)
	}

	if c.LLMMaxRetries < 0 {
		return fmt.Errorf("OPENAI_MAX_RETRIES must not be negative")
	}

	if c.AgentMaxSteps <= 0 {
		return fmt.Errorf("AGENT_MAX_STEPS must be positive")
	}

	return nil
}

// getEnvFile returns the path to the .env file
func getEnvFile() string {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		return envFile
	}
	return ".env"
}

// LoadWithDefaults loads config with defaults for testing
func LoadWithDefaults() *Config {
	return &Config{
		Port:              8000,
		Host:              "0.0.0.0",
		ReadTimeout:       30 * time.Second,
		AllowedOrigins:    []string{"*"},
		RateLimitRPS:      100,
		LogLevel:          "info",
		LLMMaxRetries:     2,
		AgentModel:        "gpt-4.1-mini",
		MemoryModel:       "gpt-4.1-mini",
		AgentMaxSteps:     25,
		BrowserMode:       BrowserModeCDP,
		CDPURL:            "http://localhost:9222",
		BrowserHeadless:   true,
		DockerImage:       "chromedp/headless-shell:latest",
		MemoryStore:       MemoryStoreMemory,
		LogGracePeriod:    300 * time.Second,
		RetentionSchedule: "@every 1m",
	}
}

// Addr returns the server address string
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LLMEnabled reports whether a language model client can be built
func (c *Config) LLMEnabled() bool {
	return c.OpenAIAPIKey != ""
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
