package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rexliu/acrpc/pkg/config"
)

func TestConfigureWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "acd.log")
	l := New("acd")
	if err := l.Configure(config.LoggingConfig{Level: "debug", FilePath: path, FileMaxSize: 1}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	l.Printf("relay entry expired for %s", "client.example")
	l.Debugf("debug line")
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", data)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry["msg"] != "relay entry expired for client.example" || entry["logger"] != "acd" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestConfigureRejectsUnknownLevel(t *testing.T) {
	if err := New("acd").Configure(config.LoggingConfig{Level: "loud"}); err == nil {
		t.Fatalf("expected an error")
	}
}

func TestNopLogger(t *testing.T) {
	l := NewNop()
	l.Printf("dropped %d", 1)
	if err := l.Configure(config.LoggingConfig{Level: "warn"}); err != nil {
		t.Fatalf("configure nop: %v", err)
	}
}
