package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		format string
	}{
		{"debug level", "debug", "console"},
		{"info level", "info", "console"},
		{"warn level", "warn", "console"},
		{"error level", "error", "console"},
		{"json format", "info", "json"},
		{"uppercase level", "DEBUG", "console"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Setup(tt.level, tt.format)
			if Log == nil {
				t.Error("expected Log to be initialized")
			}
		})
	}
}

func TestLoggerMethodsExist(t *testing.T) {
	Setup("info", "console")

	Log.Info("test info message", "key", "value")
	Log.Debug("test debug message", "key", "value")
	Log.Warn("test warn message", "key", "value")
	Log.Error("test error message", "key", "value")
}

func TestLoggerWithOddArgs(t *testing.T) {
	Setup("info", "console")

	// last key without value is dropped
	Log.Info("odd args", "key1", "value1", "orphan_key")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level  string
		expect zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"Info", zerolog.InfoLevel},
		{"WARN", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"unknown", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if got := ParseLevel(tt.level); got != tt.expect {
				t.Errorf("level %s: expected %v, got %v", tt.level, tt.expect, got)
			}
			Setup(tt.level, "console")
			if got := zerolog.GlobalLevel(); got != tt.expect {
				t.Errorf("global level %s: expected %v, got %v", tt.level, tt.expect, got)
			}
		})
	}
}

func TestJSONFieldsAndComponent(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter("debug", "json", &buf)
	defer Setup("info", "console")

	Log.With("device").Warn("release failed", "slot", 3, "err", errors.New("boom"))

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["component"] != "device" {
		t.Errorf("component = %v", entry["component"])
	}
	if entry["level"] != "warn" || entry["message"] != "release failed" {
		t.Errorf("unexpected entry %v", entry)
	}
	if entry["slot"] != float64(3) || entry["err"] != "boom" {
		t.Errorf("fields not encoded: %v", entry)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter("error", "json", &buf)
	defer Setup("info", "console")

	Log.Debug("hidden")
	Log.Info("hidden")
	Log.Error("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
