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
	}{
		{"debug", zerolog.DebugLevel},
		{" WARN ", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNamed_JSONComponent(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Level: "debug", Format: "json", Writer: &buf})

	l := Named("engine")
	l.Info().Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
	}
	if line["component"] != "engine" {
		t.Errorf("component = %v, want engine", line["component"])
	}
	if line["message"] != "hello" {
		t.Errorf("message = %v, want hello", line["message"])
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("שלום עולם", 4); got != "שלום..." {
		t.Errorf("Truncate = %q, want %q", got, "שלום...")
	}
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate = %q, want short", got)
	}
}
