package utils

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected slog.Level
		wantErr  bool
	}{
		{name: "debug level", input: "DEBUG", expected: slog.LevelDebug},
		{name: "info level", input: "INFO", expected: slog.LevelInfo},
		{name: "empty defaults to info", input: "", expected: slog.LevelInfo},
		{name: "warn level", input: "WARN", expected: slog.LevelWarn},
		{name: "warning level", input: "WARNING", expected: slog.LevelWarn},
		{name: "error level", input: "ERROR", expected: slog.LevelError},
		{name: "case insensitive", input: "debug", expected: slog.LevelDebug},
		{name: "invalid level", input: "INVALID", expected: slog.LevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseLogLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseLogLevel() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if result != tt.expected {
				t.Errorf("ParseLogLevel() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewLogger(slog.LevelInfo, LogFormatText, &buf)
		if err != nil {
			t.Fatal(err)
		}
		logger.Debug("hidden")
		logger.Info("device mounted", "component", "fuse-mount")

		out := buf.String()
		if strings.Contains(out, "hidden") {
			t.Errorf("debug record written at info level: %q", out)
		}
		if !strings.Contains(out, "component=fuse-mount") {
			t.Errorf("missing attribute in %q", out)
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewLogger(slog.LevelDebug, LogFormatJSON, &buf)
		if err != nil {
			t.Fatal(err)
		}
		logger.Debug("open", "path", "sdmc:/a")

		var record map[string]any
		if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
			t.Fatalf("not JSON: %v (%q)", err, buf.String())
		}
		if record["path"] != "sdmc:/a" || record["level"] != "DEBUG" {
			t.Errorf("record = %v", record)
		}
	})

	t.Run("invalid format", func(t *testing.T) {
		if _, err := NewLogger(slog.LevelInfo, "xml", &bytes.Buffer{}); err == nil {
			t.Error("expected error for unknown format")
		}
	})
}

func TestSetupLogging(t *testing.T) {
	previous := slog.Default()
	defer slog.SetDefault(previous)

	logFile := filepath.Join(t.TempDir(), "sdmcfs.log")
	logger, closer, err := SetupLogging("warn", "text", logFile)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("dropped")
	slog.Warn("kept")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "dropped") || !strings.Contains(string(data), "kept") {
		t.Errorf("log file = %q", data)
	}

	if _, _, err := SetupLogging("loud", "text", ""); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    uint64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{32 << 30, "32.0 GB"},
		{1 << 40, "1.0 TB"},
	}

	for _, tt := range tests {
		if result := FormatBytes(tt.input); result != tt.expected {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		input    string
		expected uint64
		wantErr  bool
	}{
		{input: "1024", expected: 1024},
		{input: "1K", expected: 1024},
		{input: "1KB", expected: 1024},
		{input: "512MB", expected: 512 << 20},
		{input: "32G", expected: 32 << 30},
		{input: "1.5K", expected: 1536},
		{input: " 2t ", expected: 2 << 40},
		{input: "", wantErr: true},
		{input: "lots", wantErr: true},
		{input: "-1K", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := ParseBytes(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBytes(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && result != tt.expected {
				t.Errorf("ParseBytes(%q) = %d, want %d", tt.input, result, tt.expected)
			}
		})
	}
}
