package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestTextHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewText(&buf, slog.LevelInfo)

	logger.Info("guest running", "shares", 2, "mode", "nat")

	line := buf.String()
	if !strings.HasPrefix(line, "INFO ") {
		t.Errorf("line should start with level: %q", line)
	}
	if !strings.Contains(line, "guest running") {
		t.Errorf("line missing message: %q", line)
	}
	if !strings.Contains(line, "shares=2") || !strings.Contains(line, "mode=nat") {
		t.Errorf("line missing attrs: %q", line)
	}
	if !strings.HasSuffix(line, "\n") {
		t.Errorf("line should end with newline: %q", line)
	}
}

func TestTextHandlerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewText(&buf, slog.LevelWarn)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record leaked through warn filter: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn record missing: %q", out)
	}
}

func TestTextHandlerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := NewText(&buf, slog.LevelInfo).With("vm", "agentvm")

	logger.WithGroup("snap").Info("created", "id", "abc")

	line := buf.String()
	if !strings.Contains(line, "vm=agentvm") {
		t.Errorf("bound attr missing: %q", line)
	}
	if !strings.Contains(line, "snap.id=abc") {
		t.Errorf("grouped attr missing: %q", line)
	}
}

func TestJSONMode(t *testing.T) {
	var buf bytes.Buffer
	logger := New(ModeJSON, &buf, slog.LevelInfo)

	logger.Info("snapshot created", "id", "abc123")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if rec["msg"] != "snapshot created" {
		t.Errorf("msg = %v", rec["msg"])
	}
	if rec["id"] != "abc123" {
		t.Errorf("id = %v", rec["id"])
	}
}

func TestEnsure(t *testing.T) {
	if Ensure(nil) == nil {
		t.Fatal("Ensure(nil) returned nil")
	}
	var buf bytes.Buffer
	logger := NewText(&buf, slog.LevelInfo)
	if Ensure(logger) != logger {
		t.Fatal("Ensure should return the given logger")
	}
}
