package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the service and the CLI client.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Providers   map[string]ProviderConfig `json:"providers" validate:"dive"`
	Extraction  ExtractionConfig          `json:"extraction"`
	Chat        ChatConfig                `json:"chat"`
	Redis       RedisConfig               `json:"redis"`
	Search      SearchConfig              `json:"search"`
	Client      ClientConfig              `json:"client"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url" validate:"omitempty,url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address"`
	MinWorkers        int    `json:"min_workers" validate:"gte=0"`
	MaxWorkers        int    `json:"max_workers" validate:"gte=0"`
	QueueSize         int    `json:"queue_size" validate:"gte=0"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout" validate:"gte=0"` // minutes
	MaxUploadBytes    int64  `json:"max_upload_bytes" validate:"gte=0"`
	ChatTimeout       int    `json:"chat_timeout" validate:"gte=0"` // seconds
	LogLevel          string `json:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFile           string `json:"log_file"`
	Development       bool   `json:"development"`
	WebSearch         bool   `json:"web_search"`
}

// ExtractionConfig selects the Gemini model used for report extraction.
type ExtractionConfig struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Prompt   string `json:"prompt"`
}

// ChatConfig selects the provider that answers chat turns.
type ChatConfig struct {
	Provider string `json:"provider" validate:"omitempty,oneof=gemini openai claude"`
	Model    string `json:"model"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host" validate:"required_if=Enabled true"`
	Port     int    `json:"port" validate:"gte=0,lte=65535"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db" validate:"gte=0"`
}

// SearchConfig configures the chat agent's web search tool. Google is used
// when both credentials are set; DuckDuckGo needs none.
type SearchConfig struct {
	GoogleAPIKey   string `json:"google_api_key"`
	GoogleEngineID string `json:"google_engine_id"`
	PerMinute      int    `json:"per_minute" validate:"gte=0"`
}

type ClientConfig struct {
	ServerURL string `json:"server_url" validate:"omitempty,url"`
}

const (
	DefaultServerAddress  = ":8090"
	DefaultServerURL      = "http://localhost:8090"
	DefaultMaxUploadBytes = 20 << 20
	DefaultChatProvider   = "gemini"
	DefaultExtractModel   = "gemini-1.5-pro"
	DefaultSearchLimit    = 5
)

var validate = validator.New()

// Load reads configuration from the provided path (defaults to config.json).
// A .env file in the working directory is loaded first; a missing config file
// yields the defaults so the CLI can run with environment variables alone.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	explicit := path != ""
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	var cfg Config
	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if addr := os.Getenv("MEDIHELP_ADDR"); addr != "" {
		c.BasicConfig.ServerAddress = addr
	}
	if url := os.Getenv("MEDIHELP_SERVER_URL"); url != "" {
		c.Client.ServerURL = url
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.Search.GoogleAPIKey = key
	}
	if id := os.Getenv("GOOGLE_SEARCH_ENGINE_ID"); id != "" {
		c.Search.GoogleEngineID = id
	}
	for name, env := range map[string]string{
		"gemini": "GEMINI_API_KEY",
		"openai": "OPENAI_API_KEY",
		"claude": "ANTHROPIC_API_KEY",
	} {
		key := os.Getenv(env)
		if key == "" {
			continue
		}
		if c.Providers == nil {
			c.Providers = make(map[string]ProviderConfig)
		}
		p := c.Providers[name]
		p.APIKey = key
		c.Providers[name] = p
	}
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = DefaultServerAddress
	}
	if c.BasicConfig.MaxUploadBytes == 0 {
		c.BasicConfig.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.Client.ServerURL == "" {
		c.Client.ServerURL = DefaultServerURL
	}
	if c.Chat.Provider == "" {
		c.Chat.Provider = DefaultChatProvider
	}
	if c.Extraction.Provider == "" {
		c.Extraction.Provider = "gemini"
	}
	if c.Extraction.Model == "" {
		c.Extraction.Model = DefaultExtractModel
	}
	if c.Search.PerMinute == 0 {
		c.Search.PerMinute = DefaultSearchLimit
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
}

// Provider returns the settings for name, or the zero value.
func (c *Config) Provider(name string) ProviderConfig {
	return c.Providers[name]
}
