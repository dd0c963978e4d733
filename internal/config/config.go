// Package config loads and resolves the terrace configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration shape.
type Config struct {
	// Provisioner configures the remote anti-detect browser service.
	Provisioner ProvisionerConfig `yaml:"provisioner"`

	// Database configures the local profile store.
	Database DatabaseConfig `yaml:"database,omitempty"`

	// Termination selects the OS-level process termination policy:
	// "none" (default) or "scoped".
	Termination string `yaml:"termination,omitempty"`

	// Profiles defines the logical ticketing profiles.
	Profiles map[string]ProfileConfig `yaml:"profiles,omitempty"`
}

// ProvisionerConfig configures the remote profile provisioning service.
type ProvisionerConfig struct {
	// BaseURL is the service API endpoint.
	BaseURL string `yaml:"baseUrl,omitempty"`

	// Token is the API token. Usually set via ${TERRACE_API_TOKEN}.
	Token string `yaml:"token,omitempty"`

	// BrowserBinary is the executable name of the browser the service
	// launches locally. Used only for liveness verification.
	BrowserBinary string `yaml:"browserBinary,omitempty"`
}

// DatabaseConfig configures the sqlite profile store.
type DatabaseConfig struct {
	Path string `yaml:"path,omitempty"`
}

// ProfileConfig configures a single logical profile.
type ProfileConfig struct {
	// Email and Password are the site credentials for this identity.
	Email    string `yaml:"email"`
	Password string `yaml:"password"`

	// Proxy accepts "user:pass@host:port", "host|port", or empty.
	Proxy string `yaml:"proxy,omitempty"`

	// Domain is the target ticketing site for this profile.
	Domain string `yaml:"domain"`
}

// ResolvedConfig is the fully resolved configuration.
type ResolvedConfig struct {
	Provisioner ProvisionerConfig
	Database    DatabaseConfig
	Termination string
	Profiles    map[string]ProfileConfig
}

const (
	defaultBaseURL       = "https://api.gologin.com"
	defaultBrowserBinary = "orbita"
)

// Load reads a config file, expands environment variables, and resolves it.
func Load(path string) (*ResolvedConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses YAML bytes with environment variable expansion.
func LoadFromBytes(data []byte) (*ResolvedConfig, error) {
	var c Config
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return Resolve(c)
}

// Resolve applies defaults and validates a config.
func Resolve(c Config) (*ResolvedConfig, error) {
	resolved := &ResolvedConfig{
		Provisioner: c.Provisioner,
		Database:    c.Database,
		Termination: c.Termination,
		Profiles:    c.Profiles,
	}

	if resolved.Provisioner.BaseURL == "" {
		resolved.Provisioner.BaseURL = defaultBaseURL
	}
	if resolved.Provisioner.BrowserBinary == "" {
		resolved.Provisioner.BrowserBinary = defaultBrowserBinary
	}
	if resolved.Termination == "" {
		resolved.Termination = "none"
	}
	if resolved.Termination != "none" && resolved.Termination != "scoped" {
		return nil, fmt.Errorf("invalid termination policy %q (want none or scoped)", resolved.Termination)
	}
	if resolved.Database.Path == "" {
		dir, err := DataDir()
		if err != nil {
			return nil, err
		}
		resolved.Database.Path = filepath.Join(dir, "terrace.db")
	}
	if resolved.Profiles == nil {
		resolved.Profiles = make(map[string]ProfileConfig)
	}

	for name, p := range resolved.Profiles {
		if p.Domain == "" {
			return nil, fmt.Errorf("profile %q: domain is required", name)
		}
	}

	return resolved, nil
}

// DataDir returns the terrace data directory, creating it if needed.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	dir := filepath.Join(home, ".terrace")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return dir, nil
}
