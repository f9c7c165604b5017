package main

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseTCPKeepAlive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    net.KeepAliveConfig
		wantErr bool
	}{
		{in: "on", want: net.KeepAliveConfig{Enable: true}},
		{in: " OFF ", want: net.KeepAliveConfig{}},
		{in: "45:15:3", want: net.KeepAliveConfig{Enable: true, Idle: 45 * time.Second, Interval: 15 * time.Second, Count: 3}},
		{in: "", wantErr: true},
		{in: "45:15", wantErr: true},
		{in: "0:15:3", wantErr: true},
		{in: "45:x:3", wantErr: true},
		{in: "45:15:-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			got, err := parseTCPKeepAlive(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("got %+v want %+v", got, tt.want)
			}
		})
	}
}

func TestParseFlagsValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{name: "socks only", args: []string{"--socks5-listen", "127.0.0.1:1080"}},
		{name: "no listeners", args: nil, wantErr: true},
		{name: "ss without password", args: []string{"--ss-listen", ":8388"}, wantErr: true},
		{name: "ss with password", args: []string{"--ss-listen", ":8388", "--ss-password", "pw"}},
		{name: "password without username", args: []string{"--socks5-listen", ":1080", "--socks5-password", "pw"}, wantErr: true},
		{name: "bad buffer size", args: []string{"--socks5-listen", ":1080", "--relay-buffer-size", "0"}, wantErr: true},
		{name: "proxy protocol", args: []string{"--socks5-listen", ":1080", "--proxy-protocol"}},
		{name: "proxy protocol with tproxy", args: []string{"--tproxy-listen", ":1234", "--proxy-protocol"}, wantErr: true},
		{name: "unknown flag", args: []string{"--http-listen", ":8080"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := parseFlags(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("got err %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "socksrelay.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfigFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
socks5-listen = "127.0.0.1:1080"
upstream = "ss://aes-128-gcm:pw@192.0.2.1:8388"
dial-timeout = "3s"
proxy-protocol = true
relay-buffer-size = 4096
log-level = "debug"
`)

	o, err := parseFlags([]string{"--config", path, "--log-level", "warn"})
	if err != nil {
		t.Fatal(err)
	}
	if o.socksListen != "127.0.0.1:1080" || o.upstream != "ss://aes-128-gcm:pw@192.0.2.1:8388" {
		t.Fatalf("file values not applied: %+v", o)
	}
	if o.dialTimeout != 3*time.Second || !o.proxyProtocol || o.relayBufferSize != 4096 {
		t.Fatalf("typed values not applied: %+v", o)
	}
	if o.logLevel != "warn" {
		t.Fatalf("command line should win, got log level %q", o.logLevel)
	}
}

func TestConfigFileErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "unknown key", body: `http-listen = ":8080"`},
		{name: "nested config", body: `config = "other.toml"`},
		{name: "table", body: "[socks5]\nlisten = \":1080\""},
		{name: "bad duration", body: "socks5-listen = \":1080\"\ndial-timeout = \"soon\""},
		{name: "float", body: "socks5-listen = \":1080\"\nlog-max-size = 1.5"},
		{name: "syntax", body: `socks5-listen = `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := writeConfig(t, tt.body)
			if _, err := parseFlags([]string{"--config", path}); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	if _, err := parseFlags([]string{"--config", filepath.Join(t.TempDir(), "missing.toml")}); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestRedactUpstream(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{
		"direct://":                            "direct://",
		"ss://aes-256-gcm:secret@1.2.3.4:8388": "ss://1.2.3.4:8388",
		"ss://YWVzOnB3QA==@host:1":             "ss://host:1",
	} {
		if got := redactUpstream(in); got != want {
			t.Fatalf("redactUpstream(%q) = %q want %q", in, got, want)
		}
	}
}
