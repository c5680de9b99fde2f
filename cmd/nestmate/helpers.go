package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	nestmate "github.com/nestmate-app/nestmate/sdk/golang"
)

// newLogger writes to stderr so command output stays clean on stdout.
func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func clientOptions(cfg *Config, logger *slog.Logger) []nestmate.ClientOption {
	opts := []nestmate.ClientOption{nestmate.WithLogger(logger)}
	if cfg.Default.BaseURL != "" {
		opts = append(opts, nestmate.WithBaseURL(cfg.Default.BaseURL))
	} else if cfg.Default.Environment != "" && cfg.Default.Environment != "production" {
		opts = append(opts, nestmate.WithEnvironment(nestmate.Environment(cfg.Default.Environment)))
	}
	if cfg.Default.WSURL != "" {
		opts = append(opts, nestmate.WithRealtimeURL(cfg.Default.WSURL))
	}
	return opts
}

// app bundles everything a command needs to talk to the backend.
type app struct {
	cfg     *Config
	logger  *slog.Logger
	client  *nestmate.Client
	store   *nestmate.Store
	session *nestmate.Session
}

// getApp builds a client, store and session from the saved config.
func getApp() *app {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" || cfg.Auth.UserID == "" {
		fmt.Fprintln(os.Stderr, "Not signed in. Run 'nestmate init <token> --user-id <id>' first.")
		os.Exit(1)
	}

	logger := newLogger()
	client := nestmate.NewClient(cfg.Auth.Token, clientOptions(cfg, logger)...)
	store := nestmate.NewStore(cfg.Auth.UserID)
	session := nestmate.NewSession(client.Messages(), store,
		nestmate.WithSessionLogger(logger),
		nestmate.WithResyncOnReconnect(20),
	)
	return &app{cfg: cfg, logger: logger, client: client, store: store, session: session}
}

// realtimeConfig maps the [realtime] section onto the live channel config.
func realtimeConfig(cfg *Config) (*nestmate.RealtimeConfig, error) {
	rc := &nestmate.RealtimeConfig{
		UserID:               cfg.Auth.UserID,
		MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
	}
	if cfg.Realtime.ReconnectDelay != "" {
		d, err := time.ParseDuration(cfg.Realtime.ReconnectDelay)
		if err != nil {
			return nil, fmt.Errorf("invalid realtime.reconnect_delay: %w", err)
		}
		rc.ReconnectDelay = d
	}
	return rc, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// maskKey shows the first 6 and last 4 characters of a token.
func maskKey(key string) string {
	if len(key) <= 10 {
		return "****"
	}
	return key[:6] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
