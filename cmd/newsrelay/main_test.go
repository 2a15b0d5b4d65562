package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"newsrelay/internal/api"
	"newsrelay/internal/config"
	"newsrelay/internal/queue"
	"newsrelay/internal/services"
	"newsrelay/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	t.Setenv("NEWSRELAY_SOURCE_API_KEY", "")
	cfg := testsupport.NewConfig(t, opts...)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	cmd.SetContext(context.Background())
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q in output:\n%s", substr, output)
	}
}

func requireExitCode(t *testing.T, err error, want int) {
	t.Helper()
	if err == nil {
		if want != api.ExitOK {
			t.Fatalf("expected exit code %d, got success", want)
		}
		return
	}
	if got := exitCodeFor(err); got != want {
		t.Fatalf("expected exit code %d, got %d (%v)", want, got, err)
	}
}

// publish seeds the configured queue and closes it again so the CLI
// opens the SQLite file on its own.
func publish(t *testing.T, cfg *config.Config, out queue.Outgoing) {
	t.Helper()
	q, err := queue.Open(cfg.Queue.DSN, queue.Options{
		VisibilityTimeout: cfg.VisibilityTimeout(),
		ReceiveTimeout:    cfg.ReceiveTimeout(),
	})
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	defer q.Close()
	if err := q.Publish(context.Background(), out); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestConsumeEmptyQueueExitsZero(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"consume"}, env.configPath)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	requireContains(t, out, "Queue empty")
}

func TestIngestWithoutSourceExitsConfig(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"ingest"}, env.configPath)
	requireExitCode(t, err, api.ExitConfig)
	requireContains(t, out, "fatal")
}

func TestConsumeWithoutLLMKeyExitsConfigAndKeepsMessage(t *testing.T) {
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	env := setupCLITestEnv(t, testsupport.WithLLM("http://127.0.0.1:1", ""))

	q := testsupport.MustOpenQueue(t, env.cfg)
	testsupport.MustPublish(t, q, testsupport.NewEnvelope(t, "cli-1"))
	if err := q.Close(); err != nil {
		t.Fatalf("close queue: %v", err)
	}

	out, _, err := runCLI(t, []string{"consume", "--json"}, env.configPath)
	requireExitCode(t, err, api.ExitConfig)
	var resp api.ConsumeResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode consume output %q: %v", out, err)
	}
	if resp.Code != api.CodeFatal || resp.ErrorKind != "configuration" {
		t.Fatalf("unexpected consume response %+v", resp)
	}

	reopened := testsupport.MustOpenQueue(t, env.cfg)
	stats, err := reopened.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total() != 1 {
		t.Fatalf("expected the message to stay queued, got %+v", stats)
	}
}

func TestDeadLetterShowExportsYAML(t *testing.T) {
	env := setupCLITestEnv(t)
	publish(t, env.cfg, queue.Outgoing{Body: []byte("not json"), TraceID: "bad"})

	out, _, err := runCLI(t, []string{"consume"}, env.configPath)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	requireContains(t, out, "dead_lettered")

	out, _, err = runCLI(t, []string{"deadletter", "list", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("deadletter list: %v", err)
	}
	var entries []api.DeadLetter
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode list %q: %v", out, err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one dead letter, got %+v", entries)
	}

	out, _, err = runCLI(t, []string{"dlq", "show", entries[0].EnvelopeID}, env.configPath)
	if err != nil {
		t.Fatalf("deadletter show: %v", err)
	}
	requireContains(t, out, "envelope_id: "+entries[0].EnvelopeID)
	requireContains(t, out, "error_kind: malformed_data")
	requireContains(t, out, "payload: not json")

	out, _, err = runCLI(t, []string{"deadletter", "replay", entries[0].EnvelopeID}, env.configPath)
	if err != nil {
		t.Fatalf("deadletter replay: %v", err)
	}
	requireContains(t, out, "Replayed "+entries[0].EnvelopeID)

	_, _, err = runCLI(t, []string{"deadletter", "replay", entries[0].EnvelopeID}, env.configPath)
	if err == nil {
		t.Fatal("expected second replay to fail")
	}
}

func TestStatusRendersTables(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Queue")
}

func TestRecordsShowMissingFails(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"records", "show", "missing"}, env.configPath)
	if err == nil {
		t.Fatal("expected error for missing record")
	}
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
