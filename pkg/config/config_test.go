package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FLEET_CONFIG_FILE", "")
	t.Setenv("CRYPTO_SECRET_KEY", "k")

	cfg := Load()
	assert.Equal(t, 50, cfg.RolePoolCapacity)
	assert.Equal(t, 10*time.Minute, cfg.CredentialSafetyMargin)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, time.Duration(0), cfg.PollMaxWait)
	require.NoError(t, cfg.Validate())
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("role_pool_capacity: 7\nsecurity_group_name: from-yaml\npoll_interval: 2s\n"), 0o600))
	t.Setenv("FLEET_CONFIG_FILE", path)
	t.Setenv("SECURITY_GROUP_NAME", "from-env")
	t.Setenv("PROVISION_POLL_MAX_WAIT", "90")

	cfg := Load()
	assert.Equal(t, 7, cfg.RolePoolCapacity)
	assert.Equal(t, "from-env", cfg.SecurityGroupName)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 90*time.Second, cfg.PollMaxWait)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults with key", func(c *Config) {}, true},
		{"missing key", func(c *Config) { c.CryptoSecretKey = "" }, false},
		{"zero capacity", func(c *Config) { c.RolePoolCapacity = 0 }, false},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }, false},
		{"unknown cache backend", func(c *Config) { c.CredentialCacheBackend = "disk" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.CryptoSecretKey = "secret"
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
