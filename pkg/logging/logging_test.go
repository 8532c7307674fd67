package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(999), "UNKNOWN"},
	}

	for _, test := range tests {
		if got := test.level.String(); got != test.expected {
			t.Errorf("LogLevel(%d).String() = %s, expected %s", test.level, got, test.expected)
		}
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{LogLevel(999), slog.LevelInfo},
	}

	for _, test := range tests {
		if got := test.level.SlogLevel(); got != test.expected {
			t.Errorf("LogLevel(%d).SlogLevel() = %v, expected %v", test.level, got, test.expected)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"DEBUG":   LevelDebug,
		"debug":   LevelDebug,
		"WARN":    LevelWarn,
		"WARNING": LevelWarn,
		"ERROR":   LevelError,
		"unknown": LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, expected %v", in, got, want)
		}
	}
}

func TestInitForCLI(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelInfo, &buf)

	if defaultLogger == nil {
		t.Fatal("expected defaultLogger to be set after InitForCLI")
	}

	Info("test-subsystem", "test message")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Error("expected log message to appear in CLI output")
	}
	if !strings.Contains(output, "test-subsystem") {
		t.Error("expected subsystem to appear in CLI output")
	}
}

func TestErrorIncludesErrAttr(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelDebug, &buf)

	Error("supervisor", errors.New("boom"), "spawn failed for %s", "alpha")

	output := buf.String()
	if !strings.Contains(output, "boom") {
		t.Error("expected error text in log output")
	}
	if !strings.Contains(output, "alpha") {
		t.Error("expected formatted message in log output")
	}
}

func TestDebugSuppressedAboveLevel(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelWarn, &buf)

	Debug("supervisor", "should not appear")
	Info("supervisor", "should not appear either")

	if buf.Len() != 0 {
		t.Errorf("expected no output below configured level, got %q", buf.String())
	}
}

func TestTruncateSessionID(t *testing.T) {
	if got := TruncateSessionID("short"); got != "short" {
		t.Errorf("expected short IDs unchanged, got %q", got)
	}
	long := "abcdefghijklmnop"
	if got := TruncateSessionID(long); got != "abcdefgh..." {
		t.Errorf("expected truncated ID, got %q", got)
	}
}

func TestAudit(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelInfo, &buf)

	Audit(AuditEvent{
		Action:    "idp_bootstrap",
		Outcome:   "success",
		Principal: "admin",
		Target:    "realm:helm",
	})

	output := buf.String()
	if !strings.Contains(output, "[AUDIT]") {
		t.Error("expected [AUDIT] prefix in output")
	}
	if !strings.Contains(output, "action=idp_bootstrap") {
		t.Error("expected action field in audit output")
	}
}
