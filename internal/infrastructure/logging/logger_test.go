package logging

import (
	"log/slog"
	"testing"

	"github.com/tvbridge/core/internal/infrastructure/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LoggingConfig
	}{
		{"json to stdout", config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}},
		{"text to stderr", config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"}},
		{"defaults for empty config", config.LoggingConfig{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := New(tt.cfg, "test")
			if log == nil {
				t.Fatal("New() returned nil")
			}
			if log.Logger == nil {
				t.Fatal("New() returned Logger with nil slog.Logger")
			}
		})
	}
}

func TestWith(t *testing.T) {
	log := Default()
	child := log.With("component", "test")

	if child == nil {
		t.Fatal("With() returned nil")
	}
	if child == log {
		t.Error("With() should return a new Logger instance")
	}
}
