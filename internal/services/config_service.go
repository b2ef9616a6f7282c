package services

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	config "github.com/kode-sdk/kode-chat/config"
	viper "github.com/spf13/viper"
	yaml "gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables overriding config keys,
// e.g. KODE_BACKEND_URL for backend.url
const EnvPrefix = "KODE"

// NewViper creates a viper instance seeded with the default configuration,
// merged with the config file at configPath when it exists, and bound to
// KODE_* environment variables.
func NewViper(configPath string) (*viper.Viper, error) {
	if configPath == "" {
		configPath = config.DefaultConfigPath
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults, err := encodeConfig(config.DefaultConfig(), 2)
	if err != nil {
		return nil, err
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to seed default config: %w", err)
	}

	v.SetConfigFile(configPath)
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return v, nil
	}
	if err := v.MergeInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	return v, nil
}

// ConfigService handles configuration loading and updates through viper
type ConfigService struct {
	viper  *viper.Viper
	config *config.Config
}

// NewConfigService creates a new config service
func NewConfigService(v *viper.Viper) (*ConfigService, error) {
	cs := &ConfigService{viper: v}
	cfg, err := cs.decode()
	if err != nil {
		return nil, err
	}
	cs.config = cfg
	return cs, nil
}

// GetConfig returns the current config
func (cs *ConfigService) GetConfig() *config.Config {
	return cs.config
}

// GetViper returns the underlying viper instance
func (cs *ConfigService) GetViper() *viper.Viper {
	return cs.viper
}

// Reload re-reads the config file from disk
func (cs *ConfigService) Reload() (*config.Config, error) {
	if err := cs.viper.MergeInConfig(); err != nil {
		return nil, fmt.Errorf("failed to re-read config file: %w", err)
	}

	cfg, err := cs.decode()
	if err != nil {
		return nil, err
	}
	cs.config = cfg
	return cfg, nil
}

// SetValue sets a configuration value using dot notation and saves it to disk
func (cs *ConfigService) SetValue(key, value string) error {
	if !cs.viper.IsSet(key) {
		return fmt.Errorf("unknown configuration key: %s", key)
	}

	previous := cs.viper.Get(key)
	cs.viper.Set(key, value)

	cfg, err := cs.decode()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		cs.viper.Set(key, previous)
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	if err := writeConfig(cs.viper.ConfigFileUsed(), cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	cs.config = cfg
	return nil
}

func (cs *ConfigService) decode() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if err := cs.viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

func encodeConfig(cfg *config.Config, indent int) ([]byte, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(indent)

	if err := encoder.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to marshal config to YAML: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("failed to close YAML encoder: %w", err)
	}
	return buf.Bytes(), nil
}

func writeConfig(filename string, cfg *config.Config) error {
	if filename == "" {
		return fmt.Errorf("no config file is currently being used")
	}

	data, err := encodeConfig(cfg, 2)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return os.WriteFile(filename, data, 0644)
}
