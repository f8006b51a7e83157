// Package config loads deployment configuration from the environment with
// an optional YAML file overlay.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrMissingCredentials is returned when the OAuth client credentials are
// absent. Validation happens at startup so a misconfiguration fails fast
// instead of surfacing as a runtime network error on the first login.
var ErrMissingCredentials = errors.New("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set")

// Config holds everything the server needs to run.
type Config struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	// BaseURL is the externally reachable origin of this deployment,
	// e.g. http://localhost:8080. The OAuth redirect URI is derived from it.
	BaseURL string `yaml:"base_url"`

	Host   string `yaml:"host"`
	Port   string `yaml:"port"`
	DBPath string `yaml:"db_path"`
}

// Load builds the config: defaults, then the YAML file named by
// MAILBEAM_CONFIG (if any), then environment variables on top.
func Load() (*Config, error) {
	cfg := &Config{
		Host:   "127.0.0.1",
		Port:   "8080",
		DBPath: "mailbeam.db",
	}

	if path := os.Getenv("MAILBEAM_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	overlayEnv(&cfg.ClientID, "GOOGLE_CLIENT_ID")
	overlayEnv(&cfg.ClientSecret, "GOOGLE_CLIENT_SECRET")
	overlayEnv(&cfg.BaseURL, "MAILBEAM_BASE_URL")
	overlayEnv(&cfg.Host, "HOST")
	overlayEnv(&cfg.Port, "PORT")
	overlayEnv(&cfg.DBPath, "MAILBEAM_DB")

	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + cfg.Port
	}
	return cfg, nil
}

// Validate checks the fields that cannot be defaulted.
func (c *Config) Validate() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return ErrMissingCredentials
	}
	return nil
}

// RedirectURL is the OAuth callback endpoint registered with the provider.
func (c *Config) RedirectURL() string {
	return c.BaseURL + "/auth/google/callback"
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

func overlayEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
