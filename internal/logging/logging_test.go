package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
		ok   bool
	}{
		{"", zerolog.InfoLevel, true},
		{"DEBUG", zerolog.DebugLevel, true},
		{" warning ", zerolog.WarnLevel, true},
		{"off", zerolog.Disabled, true},
		{"loud", zerolog.NoLevel, false},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestNew_JSON(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	t.Setenv(EnvLogFormat, "")
	var buf bytes.Buffer
	logger, err := New(Options{App: "miniuid", Level: "warn", Format: FormatJSON}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info().Msg("dropped")
	logger.Warn().Str("k", "v").Msg("kept")

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("output %q is not one JSON record: %v", buf.String(), err)
	}
	if rec["message"] != "kept" || rec["app"] != "miniuid" || rec["k"] != "v" {
		t.Fatalf("record = %v", rec)
	}
}

func TestNew_EnvOverride(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogFormat, FormatJSON)
	var buf bytes.Buffer
	logger, err := New(Options{Level: "debug", Format: FormatConsole}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Warn().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("warn logged at error level: %q", buf.String())
	}
	if logger.GetLevel() != zerolog.ErrorLevel {
		t.Fatalf("level = %v", logger.GetLevel())
	}
}

func TestNew_Invalid(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	t.Setenv(EnvLogFormat, "")
	if _, err := New(Options{Format: "xml"}, nil); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
