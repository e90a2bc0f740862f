package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestNamedLoggerPrefixesComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug")
	l.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	l.Named("ingest").Named("receipt").Warn("unknown receipt %s", "abc")

	got := buf.String()
	want := "2024-03-01 12:00:00 [WARN] ingest.receipt: unknown receipt abc\n"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "warn")

	l.Debug("hidden")
	l.Info("hidden")
	l.Error("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("expected debug/info to be filtered, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "[ERROR] shown") {
		t.Fatalf("expected error line, got %q", buf.String())
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Info("nothing happens")
	l.Named("x").Warn("still nothing")
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
