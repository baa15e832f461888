package loca

import (
	"fmt"
	"strings"
	"time"

	hostconfig "github.com/steynovich/ha-loca/internal/config"
)

// Config defines runtime configuration for the Loca client.
type Config struct {
	APIKey       string
	Username     string
	Password     string
	BaseURL      string
	ScanInterval time.Duration
}

// ConfigFromHost resolves the host config block into a runtime Config,
// reading the password file when the password is not inline.
func ConfigFromHost(cfg *hostconfig.LocaConfig) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("loca config is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return Config{}, fmt.Errorf("loca api_key is required")
	}
	if strings.TrimSpace(cfg.Username) == "" {
		return Config{}, fmt.Errorf("loca username is required")
	}

	password, err := hostconfig.ResolveSecret(cfg.Password, cfg.PasswordFile)
	if err != nil {
		return Config{}, fmt.Errorf("resolve loca password: %w", err)
	}
	if password == "" {
		return Config{}, fmt.Errorf("loca password is required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = hostconfig.DefaultBaseURL
	}

	interval := cfg.ScanIntervalSeconds
	if interval == 0 {
		interval = hostconfig.DefaultScanInterval
	}
	if interval < hostconfig.MinScanInterval || interval > hostconfig.MaxScanInterval {
		return Config{}, fmt.Errorf("loca scan interval %ds out of range [%d, %d]",
			interval, hostconfig.MinScanInterval, hostconfig.MaxScanInterval)
	}

	return Config{
		APIKey:       cfg.APIKey,
		Username:     cfg.Username,
		Password:     password,
		BaseURL:      baseURL,
		ScanInterval: time.Duration(interval) * time.Second,
	}, nil
}

// PublisherConfigFromHost resolves the MQTT config block.
func PublisherConfigFromHost(cfg *hostconfig.MQTTConfig) (PublisherConfig, error) {
	if cfg == nil {
		return PublisherConfig{}, fmt.Errorf("mqtt config is required")
	}
	if cfg.Host == "" {
		return PublisherConfig{}, fmt.Errorf("mqtt host is required")
	}

	password, err := hostconfig.ResolveSecret(cfg.Password, cfg.PasswordFile)
	if err != nil {
		return PublisherConfig{}, fmt.Errorf("resolve mqtt password: %w", err)
	}

	port := cfg.Port
	if port == 0 {
		port = hostconfig.DefaultMQTTPort
	}
	discoveryPrefix := cfg.DiscoveryPrefix
	if discoveryPrefix == "" {
		discoveryPrefix = hostconfig.DefaultDiscoveryPrefix
	}
	topicPrefix := cfg.TopicPrefix
	if topicPrefix == "" {
		topicPrefix = hostconfig.DefaultTopicPrefix
	}

	return PublisherConfig{
		Host:            cfg.Host,
		Port:            port,
		TLS:             cfg.TLS,
		Username:        cfg.Username,
		Password:        password,
		DiscoveryPrefix: discoveryPrefix,
		TopicPrefix:     topicPrefix,
	}, nil
}
