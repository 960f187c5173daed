package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level  string
		expect zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"Warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"unknown", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if got := ParseLevel(tt.level); got != tt.expect {
				t.Errorf("level %q: expected %v, got %v", tt.level, tt.expect, got)
			}
		})
	}
}

func TestSetupInitializesGlobal(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	for _, format := range []string{"console", "json"} {
		Setup("debug", format)
		if Log == nil {
			t.Fatalf("expected Log to be initialized for format %s", format)
		}
		if zerolog.GlobalLevel() != zerolog.DebugLevel {
			t.Errorf("expected global level debug, got %v", zerolog.GlobalLevel())
		}
	}
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	line := strings.TrimSpace(buf.String())
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Fatalf("log line is not JSON: %q: %v", line, err)
	}
	return m
}

func TestJSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "json")

	l.Info("checkpoint done", "checkpoint", 300, "mean_bits", 4.5)

	m := decodeLine(t, &buf)
	if m["message"] != "checkpoint done" {
		t.Errorf("message = %v", m["message"])
	}
	if m["checkpoint"] != float64(300) {
		t.Errorf("checkpoint = %v", m["checkpoint"])
	}
	if m["mean_bits"] != 4.5 {
		t.Errorf("mean_bits = %v", m["mean_bits"])
	}
}

func TestWithCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "json").With("run", "abc")

	l.Warn("slow load")

	m := decodeLine(t, &buf)
	if m["run"] != "abc" {
		t.Errorf("expected run field on child logger, got %v", m)
	}
	if m["level"] != "warn" {
		t.Errorf("level = %v", m["level"])
	}
}

func TestOddArgsAndNonStringKeys(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "json")

	l.Info("odd", 123, "value", "orphan")

	m := decodeLine(t, &buf)
	if m["123"] != "value" {
		t.Errorf("non-string key not stringified: %v", m)
	}
	if _, ok := m["orphan"]; ok {
		t.Errorf("orphan key should be dropped: %v", m)
	}
}

func TestErrorValues(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "json")

	l.Error("load failed", "error", errors.New("missing checkpoint"))

	m := decodeLine(t, &buf)
	if m["error"] != "missing checkpoint" {
		t.Errorf("error = %v", m["error"])
	}
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "console")

	l.Info("sampling", "file", "a.test")

	if !strings.Contains(buf.String(), "sampling") || !strings.Contains(buf.String(), "a.test") {
		t.Errorf("console output missing content: %q", buf.String())
	}
}
