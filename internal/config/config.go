// Package config loads go-voicelink configuration from a YAML file, the
// environment and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-voicelink/pkg/audioio"
	"github.com/teslashibe/go-voicelink/pkg/identity"
	"github.com/teslashibe/go-voicelink/pkg/transport"
)

// Environment selects the URL scheme used to reach the backend.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Default backend configuration.
const (
	DefaultHost          = "localhost:8000"
	DefaultAudioPath     = "/ws/audio"
	DefaultDashboardAddr = "127.0.0.1:8181"
)

// ServerConfig locates the backend.
type ServerConfig struct {
	// Environment is "development" (ws/http) or "production" (wss/https).
	Environment Environment `yaml:"environment"`

	// Host is the backend host[:port].
	Host string `yaml:"host"`

	// BasePath is prefixed to HTTP API paths, e.g. "/lexllm".
	BasePath string `yaml:"base_path"`

	// URL overrides the derived WebSocket URL when set.
	URL string `yaml:"url"`
}

// DashboardConfig controls the local status server.
type DashboardConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Config is the complete client configuration.
type Config struct {
	Server    ServerConfig             `yaml:"server"`
	Audio     audioio.Config           `yaml:"audio"`
	Transport transport.Config         `yaml:"transport"`
	User      identity.Identity        `yaml:"user"`
	Directory identity.DirectoryConfig `yaml:"directory"`
	Dashboard DashboardConfig          `yaml:"dashboard"`

	// StorePath is the directory of the identity store. Empty disables
	// persistence.
	StorePath string `yaml:"store_path"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when nothing is specified.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Environment: Development,
			Host:        DefaultHost,
		},
		Audio:     audioio.DefaultConfig(),
		Transport: transport.DefaultConfig(),
		Dashboard: DashboardConfig{
			Addr: DefaultDashboardAddr,
		},
		LogLevel: "info",
	}
}

// Load reads the YAML configuration file at path on top of the defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of the defaults.
// Unknown keys are rejected. The result is not validated; call Validate
// once every overlay has been applied.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables onto cfg. getenv is usually
// os.Getenv.
//
//	VOICELINK_URL        server.url
//	VOICELINK_ENV        server.environment
//	VOICELINK_HOST       server.host
//	VOICELINK_BACKEND    audio.backend
//	VOICELINK_LOG_LEVEL  log_level
//	USER_EMAIL           user.email
//	USER_NAME            user.name
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	set("VOICELINK_URL", &c.Server.URL)
	set("VOICELINK_HOST", &c.Server.Host)
	set("VOICELINK_LOG_LEVEL", &c.LogLevel)
	set("USER_EMAIL", &c.User.Email)
	set("USER_NAME", &c.User.Name)

	if v := strings.TrimSpace(getenv("VOICELINK_ENV")); v != "" {
		c.Server.Environment = Environment(strings.ToLower(v))
	}
	if v := strings.TrimSpace(getenv("VOICELINK_BACKEND")); v != "" {
		c.Audio.Backend = audioio.Backend(v)
	}
}

// IsProduction reports whether secure schemes are used.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == Production
}

// WebSocketURL returns the audio endpoint: the explicit URL when set,
// otherwise wss://host/ws/audio in production and ws://host/ws/audio in
// development.
func (c *Config) WebSocketURL() string {
	if c.Server.URL != "" {
		return c.Server.URL
	}
	scheme := "ws"
	if c.IsProduction() {
		scheme = "wss"
	}
	return scheme + "://" + c.Server.Host + DefaultAudioPath
}

// APIBaseURL returns the base URL of the backend's HTTP API.
func (c *Config) APIBaseURL() string {
	scheme := "http"
	if c.IsProduction() {
		scheme = "https"
	}
	return scheme + "://" + c.Server.Host + strings.TrimRight(c.Server.BasePath, "/")
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func (c *Config) Validate() error {
	var errs []error

	switch c.Server.Environment {
	case Development, Production:
	default:
		errs = append(errs, fmt.Errorf("server.environment must be development or production, got %q", c.Server.Environment))
	}
	if c.Server.URL == "" && c.Server.Host == "" {
		errs = append(errs, errors.New("server.host or server.url is required"))
	}
	if c.Server.URL != "" && !strings.HasPrefix(c.Server.URL, "ws://") && !strings.HasPrefix(c.Server.URL, "wss://") {
		errs = append(errs, fmt.Errorf("server.url must use ws:// or wss://, got %q", c.Server.URL))
	}
	if err := c.Audio.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	}
	if err := c.Transport.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("transport: %w", err))
	}
	if c.Dashboard.Enabled && c.Dashboard.Addr == "" {
		errs = append(errs, errors.New("dashboard.addr is required when the dashboard is enabled"))
	}

	return errors.Join(errs...)
}
