package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	SchemaVersion       = 1
	DefaultPath         = "/etc/ha-loca/config.yaml"
	DefaultHTTPAddr     = "0.0.0.0:8080"
	DefaultLogLevel     = "INFO"
	DefaultBaseURL      = "https://api.loca.nl/v1"
	DefaultScanInterval = 60

	// Bounds enforced on the Loca poll interval (seconds).
	MinScanInterval = 30
	MaxScanInterval = 3600

	DefaultDiscoveryPrefix = "homeassistant"
	DefaultTopicPrefix     = "ha-loca"
	DefaultMQTTPort        = 1883
)

// Config is the root daemon configuration.
type Config struct {
	SchemaVersion int         `yaml:"schema_version"`
	Core          CoreConfig  `yaml:"core"`
	MQTT          *MQTTConfig `yaml:"mqtt"`
	Loca          *LocaConfig `yaml:"loca"`
}

// CoreConfig holds host-level settings shared by all plugins.
type CoreConfig struct {
	HTTPAddr     string `yaml:"http_addr"`
	DashboardDir string `yaml:"dashboard_dir"`
	LogLevel     string `yaml:"log_level"`
}

// MQTTConfig enables the MQTT state/discovery publisher when present.
type MQTTConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	TLS             bool   `yaml:"tls"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	PasswordFile    string `yaml:"password_file"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	TopicPrefix     string `yaml:"topic_prefix"`
}

// LocaConfig holds one Loca account's credentials and polling settings.
type LocaConfig struct {
	APIKey              string `yaml:"api_key"`
	Username            string `yaml:"username"`
	Password            string `yaml:"password"`
	PasswordFile        string `yaml:"password_file"`
	BaseURL             string `yaml:"base_url"`
	ScanIntervalSeconds int    `yaml:"scan_interval_seconds"`
}

// Load parses the YAML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyDefaults(cfg)
	if err = Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with their documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Core.LogLevel == "" {
		cfg.Core.LogLevel = DefaultLogLevel
	}

	if cfg.Loca != nil {
		if cfg.Loca.BaseURL == "" {
			cfg.Loca.BaseURL = DefaultBaseURL
		}
		if cfg.Loca.ScanIntervalSeconds == 0 {
			cfg.Loca.ScanIntervalSeconds = DefaultScanInterval
		}
	}

	if cfg.MQTT != nil {
		if cfg.MQTT.Port == 0 {
			cfg.MQTT.Port = DefaultMQTTPort
		}
		if cfg.MQTT.DiscoveryPrefix == "" {
			cfg.MQTT.DiscoveryPrefix = DefaultDiscoveryPrefix
		}
		if cfg.MQTT.TopicPrefix == "" {
			cfg.MQTT.TopicPrefix = DefaultTopicPrefix
		}
	}
}

// Validate enforces required invariants beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}
	if cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("core.http_addr is required")
	}

	if cfg.Loca != nil {
		if strings.TrimSpace(cfg.Loca.APIKey) == "" {
			return fmt.Errorf("loca.api_key is required")
		}
		if strings.TrimSpace(cfg.Loca.Username) == "" {
			return fmt.Errorf("loca.username is required")
		}
		if cfg.Loca.Password == "" && cfg.Loca.PasswordFile == "" {
			return fmt.Errorf("loca.password or loca.password_file is required")
		}
		if cfg.Loca.ScanIntervalSeconds < MinScanInterval || cfg.Loca.ScanIntervalSeconds > MaxScanInterval {
			return fmt.Errorf("loca.scan_interval_seconds must be between %d and %d",
				MinScanInterval, MaxScanInterval)
		}
	}

	if cfg.MQTT != nil && cfg.MQTT.Host == "" {
		return fmt.Errorf("mqtt.host is required")
	}

	return nil
}

// EnabledPlugins maps enabled plugin IDs based on config presence.
func EnabledPlugins(cfg *Config) map[string]bool {
	enabled := make(map[string]bool)
	if cfg == nil {
		return enabled
	}
	if cfg.Loca != nil {
		enabled["loca"] = true
	}
	return enabled
}

// ResolveSecret returns inline when set, otherwise reads the file.
func ResolveSecret(inline, file string) (string, error) {
	if inline != "" {
		return inline, nil
	}
	if file == "" {
		return "", nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("read secret file: %w", err)
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", file)
	}
	return secret, nil
}
