// ABOUTME: Configuration loading for the inbox terminal client
// ABOUTME: Loads TOML config with environment variable expansion

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/halfattire/inbox/internal/chat"
)

// ClientConfig is the terminal client configuration.
type ClientConfig struct {
	Principal PrincipalConfig    `toml:"principal"`
	Server    ClientServerConfig `toml:"server"`
	Logging   LoggingConfig      `toml:"logging"`
}

// PrincipalConfig identifies who the client acts as.
type PrincipalConfig struct {
	ID    string `toml:"id"`
	Role  string `toml:"role"`
	Token string `toml:"token"`
}

// ClientServerConfig locates the REST API and the relay socket.
type ClientServerConfig struct {
	URL               string `toml:"url"`
	SocketURL         string `toml:"socket_url"`
	RequestTimeoutRaw string `toml:"request_timeout"`

	RequestTimeout time.Duration `toml:"-"`
}

// DefaultRequestTimeout bounds every REST call.
const DefaultRequestTimeout = 10 * time.Second

// DefaultClientPath returns ~/.config/inbox/client.toml, honoring XDG_CONFIG_HOME.
func DefaultClientPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "inbox", "client.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "client.toml"
	}
	return filepath.Join(home, ".config", "inbox", "client.toml")
}

// LoadClient reads the client config from the given path, expanding environment variables.
func LoadClient(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg ClientConfig
	if _, err := toml.Decode(expandEnvVars(string(data)), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Server.RequestTimeoutRaw != "" {
		cfg.Server.RequestTimeout, err = time.ParseDuration(cfg.Server.RequestTimeoutRaw)
		if err != nil {
			return nil, fmt.Errorf("parsing server.request_timeout %q: %w", cfg.Server.RequestTimeoutRaw, err)
		}
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func (c *ClientConfig) applyDefaults() {
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = DefaultRequestTimeout
	}
	if c.Server.SocketURL == "" && c.Server.URL != "" {
		c.Server.SocketURL = SocketURLFor(c.Server.URL)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "warn"
	}
}

// SocketURLFor derives the relay websocket URL from the REST base URL.
func SocketURLFor(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + DefaultSocketPath
	return u.String()
}

// Role returns the parsed principal role.
func (c *ClientConfig) Role() chat.Role {
	r, _ := chat.ParseRole(c.Principal.Role)
	return r
}

// Validate checks that required config fields are present and valid.
func (c *ClientConfig) Validate() error {
	if c.Principal.ID == "" {
		return fmt.Errorf("principal.id is required")
	}
	if _, err := chat.ParseRole(c.Principal.Role); err != nil {
		return fmt.Errorf("principal.role: %w", err)
	}
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.url must use http or https scheme")
	}
	s, err := url.Parse(c.Server.SocketURL)
	if err != nil {
		return fmt.Errorf("server.socket_url is not a valid URL: %w", err)
	}
	if s.Scheme != "ws" && s.Scheme != "wss" {
		return fmt.Errorf("server.socket_url must use ws or wss scheme")
	}
	return nil
}
