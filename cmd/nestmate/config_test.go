package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestSetConfigValue(t *testing.T) {
	tests := []struct {
		key, value string
		wantErr    bool
	}{
		{key: "default.base_url", value: "http://localhost:4000/api"},
		{key: "default.ws_url", value: "ws://localhost:4000/ws"},
		{key: "default.environment", value: "staging"},
		{key: "auth.token", value: "tok"},
		{key: "auth.user_id", value: "u-1"},
		{key: "realtime.max_reconnect_attempts", value: "3"},
		{key: "realtime.reconnect_delay", value: "500ms"},
		{key: "realtime.max_reconnect_attempts", value: "many", wantErr: true},
		{key: "realtime.reconnect_delay", value: "soon", wantErr: true},
		{key: "auth.password", value: "x", wantErr: true},
		{key: "nosection", value: "x", wantErr: true},
		{key: "other.field", value: "x", wantErr: true},
	}

	cfg := &Config{}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			err := setConfigValue(cfg, tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	want := &Config{
		Default:  ConfigDefault{Environment: "staging", BaseURL: "http://localhost:4000/api", WSURL: "ws://localhost:4000/ws"},
		Auth:     ConfigAuth{Token: "tok", UserID: "u-1"},
		Realtime: ConfigRealtime{MaxReconnectAttempts: 3, ReconnectDelay: "500ms"},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	t.Setenv("NESTMATE_CONFIG_DIR", t.TempDir())

	cfg, err := loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(&Config{}, cfg); diff != "" {
		t.Errorf("missing file should load empty config (-want +got):\n%s", diff)
	}

	cfg.Auth = ConfigAuth{Token: "tok", UserID: "u-1"}
	cfg.Realtime.ReconnectDelay = "3s"
	if err := saveConfig(cfg); err != nil {
		t.Fatal(err)
	}
	got, err := loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}

	rc, err := realtimeConfig(got)
	if err != nil {
		t.Fatal(err)
	}
	if rc.UserID != "u-1" || rc.ReconnectDelay != 3*time.Second {
		t.Errorf("realtime config = %+v", rc)
	}
}

func TestGetConfigValue(t *testing.T) {
	cfg := &Config{
		Default:  ConfigDefault{WSURL: "ws://localhost:4000/ws"},
		Auth:     ConfigAuth{Token: "tok-abcdefghijkl", UserID: "u-1"},
		Realtime: ConfigRealtime{MaxReconnectAttempts: 3},
	}
	tests := []struct {
		key, want string
		wantErr   bool
	}{
		{key: "default.ws_url", want: "ws://localhost:4000/ws"},
		{key: "default.base_url", want: ""},
		{key: "auth.token", want: "tok-abcdefghijkl"},
		{key: "auth.user_id", want: "u-1"},
		{key: "realtime.max_reconnect_attempts", want: "3"},
		{key: "realtime.reconnect_delay", want: ""},
		{key: "realtime.heartbeat", wantErr: true},
		{key: "token", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := getConfigValue(cfg, tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("getConfigValue(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}

	// Every key that can be read can also be written.
	for _, k := range configKeys {
		v, _ := getConfigValue(cfg, k.name)
		if v == "" {
			v = k.fallback
		}
		if v == "" {
			v = "x"
		}
		if err := setConfigValue(&Config{}, k.name, v); err != nil {
			t.Errorf("set %s: %v", k.name, err)
		}
	}
}

func TestWriteConfig(t *testing.T) {
	cfg := &Config{
		Default:  ConfigDefault{BaseURL: "http://localhost:4000/api"},
		Auth:     ConfigAuth{Token: "tok-abcdefghijkl", UserID: "u-1"},
		Realtime: ConfigRealtime{ReconnectDelay: "500ms"},
	}
	var buf bytes.Buffer
	if err := writeConfig(&buf, cfg); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	for _, want := range []string{
		"default.environment",
		"production (default)",
		"tok-ab...ijkl",
		"realtime.max_reconnect_attempts  5 (default)",
		"realtime.reconnect_delay         500ms",
		"ws://localhost:4000/ws",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "tok-abcdefghijkl") {
		t.Errorf("token printed unmasked:\n%s", out)
	}
}
