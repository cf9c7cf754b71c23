package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"robot-qlearning/pkg/config"
	"robot-qlearning/pkg/storage"
)

// writeConfig writes a small simulation config; rlExtra is appended to the rl section
func writeConfig(t *testing.T, dir, rlExtra string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`logging:
  level: warn
persistence:
  backend: file
  models_path: %s
  table_path: q_table.json
report:
  output_path: %s
rl:
  num_episodes: 3
  max_steps: 5
  checkpoint_interval: 2
  seed: 7
%s`, filepath.Join(dir, "models"), filepath.Join(dir, "report.html"), rlExtra)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunTrainsInSimulation(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "")

	if err := run(context.Background(), options{configPath: path}); err != nil {
		t.Fatalf("run: %v", err)
	}

	backend, err := storage.NewFileBackend(filepath.Join(dir, "models"), 3)
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	env, table, err := storage.NewTableStore(backend).Inspect(context.Background(), "q_table.json")
	if err != nil {
		t.Fatalf("inspect saved table: %v", err)
	}
	if table.Shape().NumActions != 3 || len(env.Actions) != 3 {
		t.Fatalf("unexpected saved table: shape %s actions %v", table.Shape(), env.Actions)
	}
	if _, err := os.Stat(filepath.Join(dir, "report.html")); err != nil {
		t.Fatalf("report not written: %v", err)
	}

	if err := run(context.Background(), options{configPath: path, evaluate: 2}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
}

func TestRunRejectsChangedShape(t *testing.T) {
	dir := t.TempDir()
	if err := run(context.Background(), options{configPath: writeConfig(t, dir, "")}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	path := writeConfig(t, dir, "  num_bins: 4\n  thresholds: [4, 7, 10]\n")
	err := run(context.Background(), options{configPath: path})
	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestRunInvalidConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "  learning_rate: 0\n")
	err := run(context.Background(), options{configPath: path})
	var cfgErr *config.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := run(ctx, options{configPath: writeConfig(t, t.TempDir(), "")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunEvaluateRequiresStoredTable(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "")

	err := run(context.Background(), options{configPath: path, evaluate: 2})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "models", "q_table.json")); !os.IsNotExist(err) {
		t.Fatalf("evaluate created a table: %v", err)
	}
}
