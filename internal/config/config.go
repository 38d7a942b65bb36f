// Package config loads the gateway configuration from a YAML file, a .env
// file and environment variables, in that order of precedence (last wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider names
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Prompts   PromptsConfig   `yaml:"prompts"`
	Saju      SajuConfig      `yaml:"saju"`
	Database  DatabaseConfig  `yaml:"database"`
	Manseryuk ManseryukConfig `yaml:"manseryuk"`
	SSE       SSEConfig       `yaml:"sse"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
	Admin     AdminConfig     `yaml:"admin"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// SessionTTL bounds how long a POSTed reading waits for its EventSource.
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	// MaxParallel caps concurrent section generations for one /sections call.
	MaxParallel int `yaml:"max_parallel"`
}

type PromptsConfig struct {
	// ReadingFile holds unified_prompt and step_prompts.
	ReadingFile  string `yaml:"reading_file"`
	ReadingLabel string `yaml:"reading_label"`
	// SectionFile holds section_prompts, common_system and common_data_template.
	SectionFile  string `yaml:"section_file"`
	SectionLabel string `yaml:"section_label"`
}

type SajuConfig struct {
	DefaultFile     string `yaml:"default_file"`
	DefaultUserName string `yaml:"default_user_name"`
}

type DatabaseConfig struct {
	// URL is a postgres:// DSN. Empty means a local sqlite file at Path.
	URL         string `yaml:"url"`
	Path        string `yaml:"path"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

type ManseryukConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxConcurrent   int           `yaml:"max_concurrent"`
	RedirectBaseURL string        `yaml:"redirect_base_url"`
}

type SSEConfig struct {
	PaddingBytes int `yaml:"padding_bytes"`
}

type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

type AdminConfig struct {
	Token string `yaml:"token"`
}

// envOverrides mirrors the environment variables the deployment sets.
// Empty / zero values leave the file configuration untouched.
type envOverrides struct {
	Port              string `env:"PORT"`
	LLMProvider       string `env:"LLM_PROVIDER"`
	LLMModel          string `env:"LLM_MODEL"`
	LLMBaseURL        string `env:"LLM_BASE_URL"`
	AnthropicAPIKey   string `env:"ANTHROPIC_API_KEY"`
	GoogleAPIKey      string `env:"GOOGLE_API_KEY"`
	OpenAIAPIKey      string `env:"OPENAI_API_KEY"`
	DatabaseURL       string `env:"DATABASE_URL"`
	ManseryukURL      string `env:"MANSERYUK_API_URL"`
	ManseryukKey      string `env:"MANSERYUK_API_KEY"`
	RedirectBaseURL   string `env:"FREE_SAJU_REDIRECT_BASE_URL"`
	DefaultUserName   string `env:"DEFAULT_USER_NAME"`
	AdminToken        string `env:"ADMIN_TOKEN"`
	LogLevel          string `env:"LOG_LEVEL"`
	ReadingPromptFile string `env:"READING_PROMPT_FILE"`
	SectionPromptFile string `env:"SECTION_PROMPT_FILE"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8001",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 15 * time.Second,
			SessionTTL:      5 * time.Minute,
		},
		LLM: LLMConfig{
			Provider:    ProviderAnthropic,
			MaxTokens:   64000,
			Temperature: 1.0,
			Timeout:     10 * time.Minute,
			MaxParallel: 4,
		},
		Prompts: PromptsConfig{
			ReadingFile:  "prompts/v8_system_prompt.yaml",
			ReadingLabel: "v8",
			SectionFile:  "prompts/v10.0_parallel.yaml",
			SectionLabel: "v10.0",
		},
		Saju: SajuConfig{
			DefaultFile: "saju_data/default.json",
		},
		Database: DatabaseConfig{
			Path:        "cheonkimoon.db",
			AutoMigrate: true,
		},
		Manseryuk: ManseryukConfig{
			Timeout:       30 * time.Second,
			MaxConcurrent: 8,
		},
		SSE: SSEConfig{PaddingBytes: 2048},
		// a reading fans out one /section-stream call per section
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 5,
			Burst:             30,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path (missing file is fine), then .env, then the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	// .env is optional in deployment; the platform injects variables directly.
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyProviderDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decode environment: %w", err)
	}

	setIf(&c.Server.Port, env.Port)
	setIf(&c.LLM.Provider, strings.ToLower(env.LLMProvider))
	setIf(&c.LLM.Model, env.LLMModel)
	setIf(&c.LLM.BaseURL, env.LLMBaseURL)
	setIf(&c.Database.URL, env.DatabaseURL)
	setIf(&c.Manseryuk.BaseURL, env.ManseryukURL)
	setIf(&c.Manseryuk.APIKey, env.ManseryukKey)
	setIf(&c.Manseryuk.RedirectBaseURL, env.RedirectBaseURL)
	setIf(&c.Saju.DefaultUserName, env.DefaultUserName)
	setIf(&c.Admin.Token, env.AdminToken)
	setIf(&c.Log.Level, env.LogLevel)
	setIf(&c.Prompts.ReadingFile, env.ReadingPromptFile)
	setIf(&c.Prompts.SectionFile, env.SectionPromptFile)

	// The key variable depends on the provider that ends up selected.
	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case ProviderAnthropic:
			c.LLM.APIKey = env.AnthropicAPIKey
		case ProviderGemini:
			c.LLM.APIKey = env.GoogleAPIKey
		case ProviderOpenAI:
			c.LLM.APIKey = env.OpenAIAPIKey
		}
	}
	return nil
}

func (c *Config) applyProviderDefaults() {
	if c.LLM.Model != "" {
		return
	}
	switch c.LLM.Provider {
	case ProviderAnthropic:
		c.LLM.Model = "claude-sonnet-4-20250514"
	case ProviderGemini:
		c.LLM.Model = "gemini-3-flash-preview"
		// Gemini rejects the Anthropic-sized budget.
		if c.LLM.MaxTokens > 8192 {
			c.LLM.MaxTokens = 8192
		}
	case ProviderOpenAI:
		c.LLM.Model = "gpt-4o-mini"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm max_tokens must be positive, got %d", c.LLM.MaxTokens)
	}
	if c.LLM.MaxParallel <= 0 {
		return fmt.Errorf("llm max_parallel must be positive, got %d", c.LLM.MaxParallel)
	}
	if c.Manseryuk.MaxConcurrent <= 0 {
		return fmt.Errorf("manseryuk max_concurrent must be positive, got %d", c.Manseryuk.MaxConcurrent)
	}
	if c.SSE.PaddingBytes < 0 {
		return fmt.Errorf("sse padding_bytes must not be negative, got %d", c.SSE.PaddingBytes)
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		return errors.New("rate_limit requires positive requests_per_second and burst")
	}
	if c.Server.SessionTTL <= 0 {
		return errors.New("server session_ttl must be positive")
	}
	return nil
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
