// pkg/config/config.go
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Env      string `yaml:"env"`
	HTTPAddr string `yaml:"http_addr"`

	// Redis & Postgres
	RedisURL    string `yaml:"redis_url"`
	RedisDB     int    `yaml:"redis_db"` // -1 keeps the index from RedisURL
	DatabaseURL string `yaml:"database_url"`
	DBMaxConns  int    `yaml:"db_max_conns"` // 0 keeps pgx's default

	// Secret codec key for cached credential material
	CryptoSecretKey string `yaml:"-"`

	// Platform AWS identity used for STS/IAM calls
	AWSRegion string `yaml:"aws_region"`

	// Credential broker
	CredentialSafetyMargin time.Duration `yaml:"credential_safety_margin"`
	CredentialCacheBackend string        `yaml:"credential_cache_backend"` // postgres | redis | memory

	// Shared role pool
	RolePoolCapacity          int    `yaml:"role_pool_capacity"`
	RolePoolNamePrefix        string `yaml:"role_pool_name_prefix"`
	RolePoolFallbackPrincipal string `yaml:"role_pool_fallback_principal"`

	// Provisioning
	PollInterval      time.Duration `yaml:"poll_interval"`
	PollMaxWait       time.Duration `yaml:"poll_max_wait"` // 0 = bounded only by the caller context
	ImageOwner        string        `yaml:"image_owner"`
	ImageNameFilter   string        `yaml:"image_name_filter"`
	ImageArchitecture string        `yaml:"image_architecture"`
	SecurityGroupName string        `yaml:"security_group_name"`
	ResourceMarker    string        `yaml:"resource_marker"`
}

// Defaults returns the configuration used when neither YAML nor env override a key.
func Defaults() Config {
	return Config{
		Env:                       "dev",
		HTTPAddr:                  ":8080",
		RedisDB:                   -1,
		DBMaxConns:                10,
		AWSRegion:                 "us-east-1",
		CredentialSafetyMargin:    10 * time.Minute,
		CredentialCacheBackend:    "postgres",
		RolePoolCapacity:          50,
		RolePoolNamePrefix:        "fleet-shared",
		RolePoolFallbackPrincipal: "",
		PollInterval:              5 * time.Second,
		ImageOwner:                "099720109477",
		ImageNameFilter:           "ubuntu/images/hvm-ssd/ubuntu-jammy-*",
		ImageArchitecture:         "arm64",
		SecurityGroupName:         "fleetbroker-default",
		ResourceMarker:            "fleetbroker",
	}
}

// Load resolves configuration in order: defaults < YAML (FLEET_CONFIG_FILE) < env.
func Load() Config {
	_ = godotenv.Load()
	cfg := Defaults()
	if path := os.Getenv("FLEET_CONFIG_FILE"); path != "" {
		if err := loadYAML(&cfg, path); err != nil {
			log.Printf("[WARN] config file %s ignored: %v", path, err)
		}
	}
	cfg.Env = env("FLEET_ENV", cfg.Env)
	cfg.HTTPAddr = env("FLEET_HTTP_ADDR", cfg.HTTPAddr)
	cfg.RedisURL = env("REDIS_URL", cfg.RedisURL)
	cfg.RedisDB = envInt("REDIS_DB", cfg.RedisDB)
	cfg.DatabaseURL = env("DATABASE_URL", cfg.DatabaseURL)
	cfg.DBMaxConns = envInt("DB_MAX_CONNS", cfg.DBMaxConns)
	cfg.CryptoSecretKey = env("CRYPTO_SECRET_KEY", cfg.CryptoSecretKey)
	cfg.AWSRegion = env("AWS_REGION", cfg.AWSRegion)
	cfg.CredentialSafetyMargin = envDur("CREDENTIAL_SAFETY_MARGIN", cfg.CredentialSafetyMargin)
	cfg.CredentialCacheBackend = env("CREDENTIAL_CACHE_BACKEND", cfg.CredentialCacheBackend)
	cfg.RolePoolCapacity = envInt("ROLE_POOL_CAPACITY", cfg.RolePoolCapacity)
	cfg.RolePoolNamePrefix = env("ROLE_POOL_NAME_PREFIX", cfg.RolePoolNamePrefix)
	cfg.RolePoolFallbackPrincipal = env("ROLE_POOL_FALLBACK_PRINCIPAL", cfg.RolePoolFallbackPrincipal)
	cfg.PollInterval = envDur("PROVISION_POLL_INTERVAL", cfg.PollInterval)
	cfg.PollMaxWait = envDur("PROVISION_POLL_MAX_WAIT", cfg.PollMaxWait)
	cfg.ImageOwner = env("IMAGE_OWNER", cfg.ImageOwner)
	cfg.ImageNameFilter = env("IMAGE_NAME_FILTER", cfg.ImageNameFilter)
	cfg.ImageArchitecture = env("IMAGE_ARCHITECTURE", cfg.ImageArchitecture)
	cfg.SecurityGroupName = env("SECURITY_GROUP_NAME", cfg.SecurityGroupName)
	cfg.ResourceMarker = env("RESOURCE_MARKER", cfg.ResourceMarker)

	if cfg.DatabaseURL == "" {
		log.Println("[WARN] DATABASE_URL not set, using in-memory stores for dev")
	}
	return cfg
}

// Validate reports configuration that would make the broker unusable.
func (c Config) Validate() error {
	if c.CryptoSecretKey == "" {
		return errors.New("CRYPTO_SECRET_KEY is required")
	}
	if c.RolePoolCapacity <= 0 {
		return fmt.Errorf("role pool capacity must be positive, got %d", c.RolePoolCapacity)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	switch c.CredentialCacheBackend {
	case "postgres", "redis", "memory":
	default:
		return fmt.Errorf("unknown credential cache backend %q", c.CredentialCacheBackend)
	}
	return nil
}

func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// envDur accepts Go duration strings ("90s") or a bare number of seconds.
func envDur(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if i, err := strconv.Atoi(v); err == nil {
		return time.Duration(i) * time.Second
	}
	return def
}
