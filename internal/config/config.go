package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type DatabaseConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"required"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname" validate:"required"`
	SSLMode  string `yaml:"sslmode" validate:"required"`
}

type ServerConfig struct {
	Addr        string   `yaml:"addr" validate:"required"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type AuthConfig struct {
	TokenSecret   string `yaml:"token_secret" validate:"required,min=16"`
	TokenValidity string `yaml:"token_validity"`
}

// Validity returns the configured token lifetime, defaulting to 24h.
func (a AuthConfig) Validity() (time.Duration, error) {
	if a.TokenValidity == "" {
		return 24 * time.Hour, nil
	}
	return time.ParseDuration(a.TokenValidity)
}

// StorageConfig points at the bucket that holds punch photos.
type StorageConfig struct {
	BaseURL    string `yaml:"base_url" validate:"required,url"`
	Bucket     string `yaml:"bucket" validate:"required"`
	ServiceKey string `yaml:"service_key" validate:"required"`
}

// DeviceConfig points at the terminal's camera/GPS bridge.
type DeviceConfig struct {
	BridgeURL         string `yaml:"bridge_url" validate:"required,url"`
	LocationTimeoutMs int    `yaml:"location_timeout_ms"`
}

type OfflineConfig struct {
	QueuePath string `yaml:"queue_path" validate:"required"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Storage  StorageConfig  `yaml:"storage"`
	Device   DeviceConfig   `yaml:"device"`
	Offline  OfflineConfig  `yaml:"offline"`
}

// Load reads config.yaml (or $PUNCHCLOCK_CONFIG), expands ${ENV} placeholders,
// and validates the result.
func Load() (*Config, error) {
	path := os.Getenv("PUNCHCLOCK_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	return LoadFile(path)
}

func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Replace environment variables in the YAML content
	content := string(data)
	for _, env := range os.Environ() {
		pair := strings.SplitN(env, "=", 2)
		if len(pair) != 2 {
			continue
		}
		placeholder := "${" + pair[0] + "}"
		content = strings.ReplaceAll(content, placeholder, pair[1])
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if _, err := cfg.Auth.Validity(); err != nil {
		return nil, fmt.Errorf("invalid token_validity: %w", err)
	}

	return &cfg, nil
}
