package server

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/syntrise/dropcore/internal/dropcore"
)

// Config drives the daemon. Backend picks where encrypted records sync
// to: "mongo", "http", or "none" for a fully local device.
type Config struct {
	Listen  string `yaml:"listen"`
	DataDir string `yaml:"data_dir"`
	UserID  string `yaml:"user_id"`

	// KeyMode is "password" or "random".
	KeyMode string `yaml:"key_mode"`

	Backend string `yaml:"backend"`
	Mongo   struct {
		URI        string `yaml:"uri"`
		DB         string `yaml:"db"`
		Collection string `yaml:"collection"`
	} `yaml:"mongo"`
	Remote struct {
		URL   string `yaml:"url"`
		Token string `yaml:"token"`
	} `yaml:"remote"`

	JWTIssuer       string `yaml:"jwt_issuer"`
	TokenTTLMinutes int    `yaml:"token_ttl_minutes"`

	AuditRetentionDays int    `yaml:"audit_retention_days"`
	LogLevel           string `yaml:"log_level"`
}

func (c *Config) setDefaults() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8474"
	}
	if c.DataDir == "" {
		c.DataDir = "./dropcore-data"
	}
	if c.UserID == "" {
		c.UserID = "local"
	}
	if c.KeyMode == "" {
		c.KeyMode = "password"
	}
	if c.Backend == "" {
		c.Backend = "none"
	}
	if c.Mongo.Collection == "" {
		c.Mongo.Collection = "records"
	}
	if c.JWTIssuer == "" {
		c.JWTIssuer = "dropcore-daemon"
	}
	if c.TokenTTLMinutes <= 0 {
		c.TokenTTLMinutes = 30
	}
	if c.AuditRetentionDays <= 0 {
		c.AuditRetentionDays = 90
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) validate() error {
	switch c.KeyMode {
	case "password", "random":
	default:
		return fmt.Errorf("%w: key_mode %q (want password or random)", dropcore.ErrConfiguration, c.KeyMode)
	}
	switch c.Backend {
	case "none":
	case "mongo":
		if c.Mongo.URI == "" || c.Mongo.DB == "" {
			return fmt.Errorf("%w: backend mongo needs mongo.uri and mongo.db", dropcore.ErrConfiguration)
		}
	case "http":
		if c.Remote.URL == "" {
			return fmt.Errorf("%w: backend http needs remote.url", dropcore.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: backend %q (want none, mongo, or http)", dropcore.ErrConfiguration, c.Backend)
	}
	return nil
}

// LoadConfig reads a YAML config file and applies env overrides. A
// missing path yields the defaults.
func LoadConfig(path string) (Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return Config{}, fmt.Errorf("server: parse %s: %w", path, err)
		}
	}
	if v := os.Getenv("DROPCORE_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("DROPCORE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("DROPCORE_MONGO_URI"); v != "" {
		c.Mongo.URI = v
	}
	if v := os.Getenv("DROPCORE_REMOTE_TOKEN"); v != "" {
		c.Remote.Token = v
	}
	c.setDefaults()
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
