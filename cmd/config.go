package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/porthorian/procureauth"
)

// cliConfig is the on-disk shape of ~/.config/procureauth/config.yaml.
type cliConfig struct {
	Backend struct {
		URL     string        `yaml:"url"`
		Domain  string        `yaml:"domain,omitempty"`
		Timeout time.Duration `yaml:"timeout,omitempty"`
	} `yaml:"backend"`

	Storage struct {
		Backend    string `yaml:"backend,omitempty"`
		Namespace  string `yaml:"namespace,omitempty"`
		Passphrase string `yaml:"passphrase,omitempty"`
		SQLitePath string `yaml:"sqlite_path,omitempty"`
		Postgres   string `yaml:"postgres_dsn,omitempty"`
		Redis      string `yaml:"redis_address,omitempty"`
	} `yaml:"storage"`

	OIDC struct {
		IssuerURL    string   `yaml:"issuer_url,omitempty"`
		ClientID     string   `yaml:"client_id,omitempty"`
		ClientSecret string   `yaml:"client_secret,omitempty"`
		Scopes       []string `yaml:"scopes,omitempty"`
		ListenAddr   string   `yaml:"listen_addr,omitempty"`
		DevMode      bool     `yaml:"dev_mode,omitempty"`
	} `yaml:"oidc"`

	RefreshLeadTime time.Duration `yaml:"refresh_lead_time,omitempty"`
	LoginTimeout    time.Duration `yaml:"login_timeout,omitempty"`
}

func defaultConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "procureauth")
	}
	return ".procureauth"
}

func defaultConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.yaml")
}

// loadCLIConfig reads path when it exists. A missing file at the default
// location is not an error.
func loadCLIConfig(path string, explicit bool) (cliConfig, error) {
	var cfg cliConfig
	if path == "" {
		path = defaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv overlays PROCUREAUTH_* variables on top of the file values.
func (c *cliConfig) applyEnv() {
	setFromEnv(&c.Backend.URL, "PROCUREAUTH_BACKEND_URL")
	setFromEnv(&c.Backend.Domain, "PROCUREAUTH_DOMAIN")
	setFromEnv(&c.Storage.Backend, "PROCUREAUTH_STORAGE")
	setFromEnv(&c.Storage.Passphrase, "PROCUREAUTH_PASSPHRASE")
	setFromEnv(&c.Storage.SQLitePath, "PROCUREAUTH_SQLITE_PATH")
	setFromEnv(&c.Storage.Postgres, "PROCUREAUTH_DATABASE_URL")
	setFromEnv(&c.Storage.Redis, "PROCUREAUTH_REDIS_ADDRESS")
	setFromEnv(&c.OIDC.IssuerURL, "PROCUREAUTH_OIDC_ISSUER_URL")
	setFromEnv(&c.OIDC.ClientID, "PROCUREAUTH_OIDC_CLIENT_ID")
	setFromEnv(&c.OIDC.ClientSecret, "PROCUREAUTH_OIDC_CLIENT_SECRET")
}

func setFromEnv(target *string, key string) {
	if value := lookupEnv(key); value != "" {
		*target = value
	}
}

func (c cliConfig) runtime() (procureauth.RuntimeConfig, error) {
	runtime := procureauth.RuntimeConfig{
		Backend: procureauth.BackendConfig{
			BaseURL:        c.Backend.URL,
			Domain:         c.Backend.Domain,
			RequestTimeout: c.Backend.Timeout,
		},
		Session: procureauth.SessionConfig{RefreshLeadTime: c.RefreshLeadTime},
	}

	storage := procureauth.StorageBackend(strings.ToLower(strings.TrimSpace(c.Storage.Backend)))
	if storage == "" {
		storage = procureauth.StorageBackendSQLite
	}
	runtime.Storage = procureauth.StorageConfig{
		Backend:    storage,
		Namespace:  c.Storage.Namespace,
		Passphrase: c.Storage.Passphrase,
	}
	switch storage {
	case procureauth.StorageBackendSQLite:
		path := c.Storage.SQLitePath
		if path == "" {
			path = filepath.Join(defaultConfigDir(), "session.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return runtime, fmt.Errorf("create session directory: %w", err)
		}
		runtime.Storage.SQLite.Path = path
	case procureauth.StorageBackendPostgres:
		runtime.Storage.Postgres.DSN = c.Storage.Postgres
	case procureauth.StorageBackendRedis:
		runtime.Storage.Redis.Address = c.Storage.Redis
	}

	runtime.Identity.LoginTimeout = c.LoginTimeout
	if c.OIDC.IssuerURL != "" {
		runtime.Identity.Backend = procureauth.IdentityBackendOIDC
		runtime.Identity.OIDC = procureauth.OIDCConfig{
			IssuerURL:    c.OIDC.IssuerURL,
			ClientID:     c.OIDC.ClientID,
			ClientSecret: c.OIDC.ClientSecret,
			Scopes:       c.OIDC.Scopes,
			ListenAddr:   c.OIDC.ListenAddr,
			DevMode:      c.OIDC.DevMode,
		}
	}

	return runtime, nil
}
