package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

type Config struct {
	HTTPPort string `mapstructure:"HTTP_PORT"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	JWTSecret  string        `mapstructure:"JWT_SECRET"`
	JWTTTL     time.Duration `mapstructure:"JWT_TTL"`
	BcryptCost int           `mapstructure:"BCRYPT_COST"`

	DatabaseDriver string `mapstructure:"DATABASE_DRIVER"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`

	// LLMProvider is one of azure, openai, gemini or mock.
	LLMProvider string        `mapstructure:"LLM_PROVIDER"`
	LLMTimeout  time.Duration `mapstructure:"LLM_TIMEOUT"`

	AzureOpenAIEndpoint     string `mapstructure:"AZURE_OPENAI_ENDPOINT"`
	AzureOpenAIAPIKey       string `mapstructure:"AZURE_OPENAI_API_KEY"`
	AzureOpenAIDeployment   string `mapstructure:"AZURE_OPENAI_DEPLOYMENT_NAME"`
	AzureOpenAIAPIVersion   string `mapstructure:"AZURE_OPENAI_API_VERSION"`
	AzureOpenAIOrganization string `mapstructure:"AZURE_OPENAI_ORGANIZATION"`

	OpenAIBaseURL string `mapstructure:"OPENAI_BASE_URL"`
	OpenAIAPIKey  string `mapstructure:"OPENAI_API_KEY"`
	OpenAIModel   string `mapstructure:"OPENAI_MODEL"`

	GeminiAPIKey string `mapstructure:"GEMINI_API_KEY"`
	GeminiModel  string `mapstructure:"GEMINI_MODEL"`

	// LiveStateDriver selects where live interview snapshots are kept (memory or redis).
	LiveStateDriver string        `mapstructure:"LIVE_STATE_DRIVER"`
	RedisURL        string        `mapstructure:"REDIS_URL"`
	LiveStateTTL    time.Duration `mapstructure:"LIVE_STATE_TTL"`

	SelfPlayDelay time.Duration `mapstructure:"SELF_PLAY_DELAY"`
}

var AppConfig Config

// LoadConfig populates AppConfig and exits the process when it is invalid.
func LoadConfig() {
	cfg, err := Load()
	if err != nil {
		log.Fatal(err)
	}
	AppConfig = *cfg
}

// Load reads .env (if present) into the environment, then binds the environment
// into a Config. Provider credentials are not checked here; a missing provider
// setting is reported by the provider factory on use.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil { // Load .env file if it exists
		log.Println("No .env file found, relying on environment variables")
	}

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "INFO")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_TTL", "24h")
	v.SetDefault("BCRYPT_COST", bcrypt.DefaultCost)
	v.SetDefault("DATABASE_DRIVER", "sqlite3")
	v.SetDefault("DATABASE_URL", "interview_coach.db")
	v.SetDefault("LLM_PROVIDER", "azure")
	v.SetDefault("LLM_TIMEOUT", "90s")
	v.SetDefault("AZURE_OPENAI_ENDPOINT", "")
	v.SetDefault("AZURE_OPENAI_API_KEY", "")
	v.SetDefault("AZURE_OPENAI_DEPLOYMENT_NAME", "")
	v.SetDefault("AZURE_OPENAI_API_VERSION", "2024-02-15-preview")
	v.SetDefault("AZURE_OPENAI_ORGANIZATION", "")
	v.SetDefault("OPENAI_BASE_URL", "https://api.openai.com")
	v.SetDefault("OPENAI_API_KEY", "")
	v.SetDefault("OPENAI_MODEL", "")
	v.SetDefault("GEMINI_API_KEY", "")
	v.SetDefault("GEMINI_MODEL", "gemini-1.5-flash-latest")
	v.SetDefault("LIVE_STATE_DRIVER", "memory")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("LIVE_STATE_TTL", "24h")
	v.SetDefault("SELF_PLAY_DELAY", "1500ms")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg.LogLevel = strings.ToUpper(cfg.LogLevel)
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	cfg.LiveStateDriver = strings.ToLower(strings.TrimSpace(cfg.LiveStateDriver))

	if cfg.JWTSecret == "" {
		return nil, errors.New("config: JWT_SECRET environment variable is required")
	}
	if cfg.HTTPPort == "" {
		return nil, errors.New("config: HTTP_PORT must be set")
	}
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("config: BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if cfg.DatabaseDriver != "sqlite3" && cfg.DatabaseDriver != "pgx" {
		return nil, fmt.Errorf("config: DATABASE_DRIVER must be sqlite3 or pgx, got %q", cfg.DatabaseDriver)
	}
	if cfg.LiveStateDriver == "redis" && cfg.RedisURL == "" {
		return nil, errors.New("config: REDIS_URL is required when LIVE_STATE_DRIVER=redis")
	}
	if cfg.SelfPlayDelay < 0 {
		return nil, errors.New("config: SELF_PLAY_DELAY must not be negative")
	}
	return &cfg, nil
}

// Debug reports whether verbose logging was requested.
func (c *Config) Debug() bool {
	return c.LogLevel == "DEBUG"
}
