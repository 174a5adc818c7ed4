package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Loader reads configuration from a YAML file with environment overrides.
type Loader struct {
	path      string
	useDotEnv bool
}

// NewLoader creates a loader for the given config path. An empty path falls
// back to the CONFIG_PATH environment variable and then to config.yaml.
func NewLoader(path string) *Loader {
	return &Loader{
		path:      path,
		useDotEnv: true,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load parses the YAML file over the defaults and applies env overrides.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		if err := godotenv.Load(); err != nil {
			fmt.Println("no .env file found, using system environment")
		}
	}

	path := l.path
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.yaml"
	}

	cfg := Defaults()

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		// Missing file is fine, the defaults plus env cover a minimal setup.
	} else if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	return &Result{
		Config: cfg,
		Path:   path,
	}, nil
}

// applyEnvOverrides lets secrets live outside the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("N8N_API_KEY"); v != "" {
		cfg.Store.APIKey = v
	}
	if v := os.Getenv("N8N_URL"); v != "" {
		cfg.Store.URL = v
	}
	if v := os.Getenv("LICENSE_VERIFY_URL"); v != "" {
		cfg.License.URL = v
	}
	if v := os.Getenv("ZALO_GATEWAY_URL"); v != "" {
		cfg.Zalo.GatewayURL = v
	}
	if v := os.Getenv("ZALO_PROXY"); v != "" {
		cfg.Zalo.Proxy = v
	}
	if v := os.Getenv("SERVER_TOKEN"); v != "" {
		cfg.Server.Token = v
	}
}
