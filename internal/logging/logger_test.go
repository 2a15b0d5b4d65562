package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"newsrelay/internal/config"
	"newsrelay/internal/logging"
	"newsrelay/internal/services"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Logging.Format = "console"

	logger, err := logging.NewFromConfig(&cfg, nil)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello file")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "newsrelay.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "hello file") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.NewComponentLogger(logger, "workflow").Info("message without caller", logging.String("key", "has space"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	if strings.Contains(line, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", line)
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("expected no colour codes in file output, got %q", line)
	}
	if !strings.Contains(line, "workflow: message without caller") || !strings.Contains(line, `key="has space"`) {
		t.Fatalf("unexpected console line %q", line)
	}
}

func TestJSONLoggerIncludesContextFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithEnvelopeID(context.Background(), "env-7")
	ctx = services.WithStage(ctx, "notification")
	ctx = services.WithTraceID(ctx, "trace-9")
	logging.WithContext(ctx, logger).Info("sent")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(content, &payload); err != nil {
		t.Fatalf("decode json log: %v (%q)", err, content)
	}
	for key, want := range map[string]string{
		"msg":                   "sent",
		"level":                 "info",
		logging.FieldEnvelopeID: "env-7",
		logging.FieldStage:      "notification",
		logging.FieldTraceID:    "trace-9",
	} {
		if payload[key] != want {
			t.Fatalf("expected %s=%q, got %v", key, want, payload[key])
		}
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatal("expected ts key")
	}
}

func TestJSONLoggerRendersDurations(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "durations.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "stage attempt failed", "stage_failure", logging.Duration("retry_in", 1500*time.Millisecond))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(content, &payload); err != nil {
		t.Fatalf("decode json log: %v (%q)", err, content)
	}
	if payload["retry_in"] != "1.5s" {
		t.Fatalf("expected retry_in=1.5s, got %v", payload["retry_in"])
	}
	if payload[logging.FieldEventType] != "stage_failure" || payload[logging.FieldErrorHint] != "check logs for details" {
		t.Fatalf("expected default event_type and error_hint, got %v", payload)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestLoggerPublishesToHub(t *testing.T) {
	hub := logging.NewStreamHub(8)
	logger, err := logging.New(logging.Options{
		Format:      "json",
		OutputPaths: []string{filepath.Join(t.TempDir(), "hub.log")},
		Hub:         hub,
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Warn("queue backlog", logging.String(logging.FieldEventType, "backlog"))
	events, _ := hub.Tail(1)
	if len(events) != 1 || events[0].Level != "WARN" || events[0].Fields[logging.FieldEventType] != "backlog" {
		t.Fatalf("unexpected hub events: %+v", events)
	}
}
