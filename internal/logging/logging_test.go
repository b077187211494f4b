package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stellarlinkco/sentiencex/internal/config"
)

func TestBuild_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := build(config.LogConfig{Level: "warn", Format: "json"}, zapcore.AddSync(&buf))
	if err != nil {
		t.Fatalf("build error: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", zap.String("target", "turns.jsonl"))
	_ = logger.Sync()

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info entry written at warn level: %s", out)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &entry); err != nil {
		t.Fatalf("not JSON: %v (%q)", err, out)
	}
	if entry["msg"] != "shown" || entry["target"] != "turns.jsonl" {
		t.Errorf("entry = %v", entry)
	}
}

func TestBuild_BadLevel(t *testing.T) {
	if _, err := build(config.LogConfig{Level: "loud"}, zapcore.AddSync(&bytes.Buffer{})); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestBuild_TeesToFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "sentiencex.log")
	logger, err := build(config.LogConfig{Level: "info", Format: "console", File: path, MaxSizeMB: 1}, zapcore.AddSync(&buf))
	if err != nil {
		t.Fatalf("build error: %v", err)
	}
	logger.Named("memory").Info("compacted")
	_ = logger.Sync()

	if !strings.Contains(buf.String(), "compacted") {
		t.Errorf("console output = %q", buf.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"logger":"memory"`) {
		t.Errorf("file output = %q", data)
	}
}
