package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := `
database:
  driver: sqlite
  path: ` + filepath.Join(dir, "relay.db") + `
executor:
  url: http://127.0.0.1:9999/agent
`
	path := filepath.Join(dir, "relay.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDBInitCmd(t *testing.T) {
	dir := t.TempDir()
	configPath := writeTestConfig(t, dir)

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"db", "init", "--config", configPath})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("db init failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "schema ready") {
		t.Errorf("output = %s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "relay.db")); err != nil {
		t.Errorf("sqlite file not created: %v", err)
	}
}

func TestDBInitCmd_MissingConfig(t *testing.T) {
	cmd := newRootCmd()
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"db", "init", "--config", "/does/not/exist.yaml"})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
