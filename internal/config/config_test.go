package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
schema_version: 1
loca:
  api_key: key-123
  username: user@example.com
  password: hunter2
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPAddr, cfg.Core.HTTPAddr)
	assert.Equal(t, DefaultLogLevel, cfg.Core.LogLevel)
	assert.Equal(t, DefaultBaseURL, cfg.Loca.BaseURL)
	assert.Equal(t, DefaultScanInterval, cfg.Loca.ScanIntervalSeconds)
	assert.Nil(t, cfg.MQTT)
}

func TestLoadMQTTDefaults(t *testing.T) {
	path := writeConfig(t, `
schema_version: 1
mqtt:
  host: broker.local
loca:
  api_key: key-123
  username: user@example.com
  password: hunter2
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultMQTTPort, cfg.MQTT.Port)
	assert.Equal(t, DefaultDiscoveryPrefix, cfg.MQTT.DiscoveryPrefix)
	assert.Equal(t, DefaultTopicPrefix, cfg.MQTT.TopicPrefix)
}

func TestValidateScanIntervalBounds(t *testing.T) {
	for _, tc := range []struct {
		name     string
		interval int
		wantErr  bool
	}{
		{"below minimum", 10, true},
		{"minimum", 30, false},
		{"default", 60, false},
		{"maximum", 3600, false},
		{"above maximum", 7200, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{
				SchemaVersion: SchemaVersion,
				Loca: &LocaConfig{
					APIKey:              "key",
					Username:            "user",
					Password:            "pass",
					ScanIntervalSeconds: tc.interval,
				},
			}
			ApplyDefaults(cfg)
			err := Validate(cfg)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateMissingCredentials(t *testing.T) {
	cfg := &Config{
		SchemaVersion: SchemaVersion,
		Loca:          &LocaConfig{Username: "user", Password: "pass"},
	}
	ApplyDefaults(cfg)
	assert.ErrorContains(t, Validate(cfg), "api_key")

	cfg.Loca.APIKey = "key"
	cfg.Loca.Password = ""
	assert.ErrorContains(t, Validate(cfg), "password")
}

func TestValidateSchemaVersion(t *testing.T) {
	cfg := &Config{SchemaVersion: 2}
	ApplyDefaults(cfg)
	assert.Error(t, Validate(cfg))
}

func TestEnabledPlugins(t *testing.T) {
	assert.Empty(t, EnabledPlugins(&Config{}))
	assert.Equal(t, map[string]bool{"loca": true},
		EnabledPlugins(&Config{Loca: &LocaConfig{}}))
}

func TestResolveSecret(t *testing.T) {
	inline, err := ResolveSecret("inline-secret", "")
	require.NoError(t, err)
	assert.Equal(t, "inline-secret", inline)

	path := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))

	fromFile, err := ResolveSecret("", path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", fromFile)

	_, err = ResolveSecret("", filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
