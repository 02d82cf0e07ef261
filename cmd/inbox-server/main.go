// ABOUTME: Entry point for inbox-server, the REST and realtime relay backend
// ABOUTME: Subcommands: serve, init, token, health

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/halfattire/inbox/internal/auth"
	"github.com/halfattire/inbox/internal/chat"
	"github.com/halfattire/inbox/internal/config"
	"github.com/halfattire/inbox/internal/logging"
	"github.com/halfattire/inbox/internal/server"
)

// Version is set at build time.
var version = "dev"

const banner = `
  _       _                                                
 (_)_ __ | |__   _____  __     ___  ___ _ ____   _____ _ __ 
 | | '_ \| '_ \ / _ \ \/ /____/ __|/ _ \ '__\ \ / / _ \ '__|
 | | | | | |_) | (_) >  <_____\__ \  __/ |   \ V /  __/ |   
 |_|_| |_|_.__/ \___/_/\_\    |___/\___|_|    \_/ \___|_|   
`

// getConfigPath returns the path to the server config file.
// Priority: INBOX_CONFIG env var > XDG_CONFIG_HOME/inbox/server.yaml > ~/.config/inbox/server.yaml
func getConfigPath() string {
	if envPath := os.Getenv("INBOX_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "server.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "inbox", "server.yaml")
}

// getDataPath returns the inbox data directory.
// Priority: XDG_DATA_HOME/inbox > ~/.local/share/inbox
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "inbox")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: inbox-server <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                                   Start the server")
		fmt.Println("  init                                    Write a config file with a fresh JWT secret")
		fmt.Println("  token --principal ID --role user|seller Mint a bearer token")
		fmt.Println("  health                                  Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "token":
		err = runToken(os.Args[2:])
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Socket:    %s\n", cfg.Server.SocketPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! auth disabled")
	}
	if cfg.Presence.Redis.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Redis:     %s\n", cfg.Presence.Redis.Addr)
	}
	if cfg.Relay.NATS.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("NATS:      %s\n", cfg.Relay.NATS.URL)
	}
	fmt.Println()

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}

func runInit() error {
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	dataPath := getDataPath()
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	configContent := fmt.Sprintf(`# inbox-server configuration
# Generated by inbox-server init

server:
  http_addr: "localhost:8080"
  socket_path: "/socket"
  shutdown_timeout: "10s"

database:
  path: "%s"

auth:
  jwt_secret: "%s"
  token_ttl: "720h"

presence:
  redis:
    enabled: false
    addr: "localhost:6379"
    ttl: "2m"

relay:
  nats:
    enabled: false
    url: "nats://localhost:4222"

logging:
  level: "info"
  format: "text"
`, filepath.Join(dataPath, "inbox.db"), jwtSecret)

	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("Wrote %s\n", configPath)
	return nil
}

// parseTokenArgs supports both "--flag value" and "--flag=value".
func parseTokenArgs(args []string) (principal string, role chat.Role, ttl time.Duration, err error) {
	var roleRaw, ttlRaw string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--principal", "-p", "--role", "-r", "--ttl":
		default:
			if strings.HasPrefix(arg, "-") {
				return "", "", 0, fmt.Errorf("unknown flag: %s", arg)
			}
			return "", "", 0, fmt.Errorf("unexpected argument: %s", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return "", "", 0, fmt.Errorf("%s requires a value", name)
			}
			value = args[i+1]
			i++
		}
		switch name {
		case "--principal", "-p":
			principal = strings.TrimSpace(value)
		case "--role", "-r":
			roleRaw = value
		case "--ttl":
			ttlRaw = value
		}
	}

	if principal == "" {
		return "", "", 0, fmt.Errorf("--principal flag is required")
	}
	if roleRaw == "" {
		roleRaw = string(chat.RoleUser)
	}
	role, err = chat.ParseRole(roleRaw)
	if err != nil {
		return "", "", 0, err
	}
	if ttlRaw != "" {
		ttl, err = time.ParseDuration(ttlRaw)
		if err != nil {
			return "", "", 0, fmt.Errorf("parsing --ttl: %w", err)
		}
	}
	return principal, role, ttl, nil
}

func runToken(args []string) error {
	principal, role, ttl, err := parseTokenArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}
	if ttl == 0 {
		ttl = cfg.Auth.TokenTTL
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating verifier: %w", err)
	}
	token, err := verifier.Generate(principal, role, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
