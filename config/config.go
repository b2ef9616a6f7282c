package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ConfigDirName      = ".kode"
	ConfigFileName     = "config.yaml"
	DefaultConfigPath  = ConfigDirName + "/" + ConfigFileName
	ConversationsDir   = ConfigDirName + "/conversations"
	DefaultLogFileName = ConfigDirName + "/logs/kode-chat.log"
)

// Config represents the CLI configuration
type Config struct {
	Backend BackendConfig `yaml:"backend" mapstructure:"backend"`
	Stream  StreamConfig  `yaml:"stream" mapstructure:"stream"`
	Chat    ChatConfig    `yaml:"chat" mapstructure:"chat"`
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Demo    DemoConfig    `yaml:"demo" mapstructure:"demo"`
}

// BackendConfig contains agent backend connection settings
type BackendConfig struct {
	URL       string      `yaml:"url" mapstructure:"url"`
	APIPrefix string      `yaml:"api_prefix" mapstructure:"api_prefix"`
	Timeout   int         `yaml:"timeout" mapstructure:"timeout"`
	UserID    string      `yaml:"user_id" mapstructure:"user_id"`
	Retry     RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig contains retry settings for REST requests
type RetryConfig struct {
	Enabled              bool  `yaml:"enabled" mapstructure:"enabled"`
	MaxAttempts          int   `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffSec    int   `yaml:"initial_backoff_sec" mapstructure:"initial_backoff_sec"`
	MaxBackoffSec        int   `yaml:"max_backoff_sec" mapstructure:"max_backoff_sec"`
	BackoffMultiplier    int   `yaml:"backoff_multiplier" mapstructure:"backoff_multiplier"`
	RetryableStatusCodes []int `yaml:"retryable_status_codes" mapstructure:"retryable_status_codes"`
}

// StreamConfig contains event stream settings
type StreamConfig struct {
	Transport          string `yaml:"transport" mapstructure:"transport"`
	ReconnectAttempts  int    `yaml:"reconnect_attempts" mapstructure:"reconnect_attempts"`
	ReconnectDelayMs   int    `yaml:"reconnect_delay_ms" mapstructure:"reconnect_delay_ms"`
	ThinkingCollapseMs int    `yaml:"thinking_collapse_ms" mapstructure:"thinking_collapse_ms"`
}

// ChatConfig contains interactive chat settings
type ChatConfig struct {
	InitialPrompt  string `yaml:"initial_prompt" mapstructure:"initial_prompt"`
	ShowThinking   bool   `yaml:"show_thinking" mapstructure:"show_thinking"`
	ShowTokenUsage bool   `yaml:"show_token_usage" mapstructure:"show_token_usage"`
	MarkdownStyle  string `yaml:"markdown_style" mapstructure:"markdown_style"`
}

// StorageConfig contains transcript archive settings
type StorageConfig struct {
	Enabled  bool                  `yaml:"enabled" mapstructure:"enabled"`
	Type     string                `yaml:"type" mapstructure:"type"`
	Jsonl    JsonlStorageConfig    `yaml:"jsonl" mapstructure:"jsonl"`
	SQLite   SQLiteStorageConfig   `yaml:"sqlite" mapstructure:"sqlite"`
	Postgres PostgresStorageConfig `yaml:"postgres" mapstructure:"postgres"`
	Redis    RedisStorageConfig    `yaml:"redis" mapstructure:"redis"`
}

// JsonlStorageConfig contains JSONL file storage settings
type JsonlStorageConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// SQLiteStorageConfig contains SQLite storage settings
type SQLiteStorageConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresStorageConfig contains Postgres storage settings
type PostgresStorageConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Database string `yaml:"database" mapstructure:"database"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	SSLMode  string `yaml:"ssl_mode" mapstructure:"ssl_mode"`
}

// RedisStorageConfig contains Redis storage settings
type RedisStorageConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	TTL      int    `yaml:"ttl" mapstructure:"ttl"`
}

// LoggingConfig contains log output settings
type LoggingConfig struct {
	Debug bool   `yaml:"debug" mapstructure:"debug"`
	File  string `yaml:"file" mapstructure:"file"`
}

// DemoConfig contains settings for the bundled demo backend
type DemoConfig struct {
	Addr         string `yaml:"addr" mapstructure:"addr"`
	ChunkDelayMs int    `yaml:"chunk_delay_ms" mapstructure:"chunk_delay_ms"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:       "http://localhost:3000",
			APIPrefix: "/api",
			Timeout:   30,
			Retry: RetryConfig{
				Enabled:              true,
				MaxAttempts:          3,
				InitialBackoffSec:    1,
				MaxBackoffSec:        10,
				BackoffMultiplier:    2,
				RetryableStatusCodes: []int{408, 429, 500, 502, 503, 504},
			},
		},
		Stream: StreamConfig{
			Transport:          "sse",
			ReconnectAttempts:  3,
			ReconnectDelayMs:   1000,
			ThinkingCollapseMs: 1500,
		},
		Chat: ChatConfig{
			ShowThinking:   true,
			ShowTokenUsage: true,
			MarkdownStyle:  "auto",
		},
		Storage: StorageConfig{
			Enabled: true,
			Type:    "jsonl",
			Jsonl: JsonlStorageConfig{
				Path: ConversationsDir,
			},
			SQLite: SQLiteStorageConfig{
				Path: ConfigDirName + "/conversations.db",
			},
			Postgres: PostgresStorageConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "kode_chat",
				Username: "kode",
				SSLMode:  "disable",
			},
			Redis: RedisStorageConfig{
				Host: "localhost",
				Port: 6379,
				TTL:  0,
			},
		},
		Logging: LoggingConfig{
			File: DefaultLogFileName,
		},
		Demo: DemoConfig{
			Addr:         ":3000",
			ChunkDelayMs: 150,
		},
	}
}

// Validate reports configuration values that cannot work
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backend.URL) == "" {
		return fmt.Errorf("backend.url is required")
	}
	switch c.Stream.Transport {
	case "sse", "websocket":
	default:
		return fmt.Errorf("stream.transport must be sse or websocket, got %q", c.Stream.Transport)
	}
	switch c.Storage.Type {
	case "memory", "jsonl", "sqlite", "postgres", "redis":
	default:
		return fmt.Errorf("storage.type %q is not supported", c.Storage.Type)
	}
	if c.Stream.ReconnectAttempts < 0 {
		return fmt.Errorf("stream.reconnect_attempts must not be negative")
	}
	return nil
}

// APIBaseURL returns the backend URL joined with the API prefix
func (c *Config) APIBaseURL() string {
	base := strings.TrimRight(c.Backend.URL, "/")
	prefix := strings.Trim(c.Backend.APIPrefix, "/")
	if prefix == "" {
		return base
	}
	return base + "/" + prefix
}

// LoadConfig loads configuration from file, falling back to defaults when it does not exist
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves configuration to file
func (c *Config) SaveConfig(configPath string) error {
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf strings.Builder
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)

	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := encoder.Close(); err != nil {
		return fmt.Errorf("failed to close encoder: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(buf.String()), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
