package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNewLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level     string
		wantDebug bool
		wantInfo  bool
		wantErr   bool
	}{
		{level: "", wantInfo: true},
		{level: "debug", wantDebug: true, wantInfo: true},
		{level: "info", wantInfo: true},
		{level: "WARN"},
		{level: "error"},
		{level: "chatty", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			log, done, err := New(Options{Level: tt.level, Console: &buf})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}

			if ce := log.Check(zap.DebugLevel, "dbg"); ce != nil {
				ce.Write(zap.Int("n", 1))
			}
			log.Info("inf", zap.String("k", "v"))
			done()

			out := buf.String()
			if got := strings.Contains(out, "dbg"); got != tt.wantDebug {
				t.Fatalf("debug logged=%v want %v: %q", got, tt.wantDebug, out)
			}
			if got := strings.Contains(out, "inf"); got != tt.wantInfo {
				t.Fatalf("info logged=%v want %v: %q", got, tt.wantInfo, out)
			}
		})
	}
}

func TestNewFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "relay.log")

	var console bytes.Buffer
	log, done, err := New(Options{Level: "info", File: path, MaxSizeMB: 1, Console: &console})
	if err != nil {
		t.Fatal(err)
	}
	log.Warn("listener stopped", zap.String("addr", "127.0.0.1:1080"))
	done()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(b, []byte(`"msg":"listener stopped"`)) || !bytes.Contains(b, []byte(`"addr":"127.0.0.1:1080"`)) {
		t.Fatalf("unexpected file contents %q", b)
	}
	if !strings.Contains(console.String(), "listener stopped") {
		t.Fatalf("console missing entry: %q", console.String())
	}
}
