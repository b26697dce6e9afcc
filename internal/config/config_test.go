package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const fullYAML = `
server:
  host: 127.0.0.1
  port: 9100

database:
  driver: mysql
  host: 10.0.0.5
  port: 3307
  name: relay_prod

session:
  ttl_seconds: 1800
  max_tasks: 16

memory:
  read_limit: 50

executor:
  url: http://agent-runner:9000/run
  timeout_seconds: 120

workers:
  max_concurrent: 4

janitor:
  schedule: "*/2 * * * *"

notify:
  slack:
    bot_token: xoxb-test
    channel: C012345
  discord:
    bot_token: dtoken
    channel: "99887766"
`

const minimalYAML = `
executor:
  url: http://localhost:9000/run
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9100 {
		t.Errorf("server = %s:%d, want 127.0.0.1:9100", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Database.Driver != "mysql" || cfg.Database.Host != "10.0.0.5" || cfg.Database.Port != 3307 {
		t.Errorf("database = %+v, want mysql at 10.0.0.5:3307", cfg.Database)
	}
	if cfg.Session.TTLSeconds != 1800 || cfg.Session.MaxTasks != 16 {
		t.Errorf("session = %+v, want ttl 1800, max_tasks 16", cfg.Session)
	}
	if cfg.Memory.ReadLimit != 50 {
		t.Errorf("memory.read_limit = %d, want 50", cfg.Memory.ReadLimit)
	}
	if cfg.Executor.URL != "http://agent-runner:9000/run" || cfg.Executor.TimeoutSeconds != 120 {
		t.Errorf("executor = %+v", cfg.Executor)
	}
	if cfg.Workers.MaxConcurrent != 4 {
		t.Errorf("workers.max_concurrent = %d, want 4", cfg.Workers.MaxConcurrent)
	}
	if cfg.Janitor.Schedule != "*/2 * * * *" {
		t.Errorf("janitor.schedule = %q", cfg.Janitor.Schedule)
	}
	if cfg.Notify.Slack.Channel != "C012345" || cfg.Notify.Discord.Channel != "99887766" {
		t.Errorf("notify = %+v", cfg.Notify)
	}
}

func TestParse_MinimalDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 8000 {
		t.Errorf("server defaults = %s:%d, want 0.0.0.0:8000", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.Path != "relay.db" {
		t.Errorf("database defaults = %+v, want sqlite relay.db", cfg.Database)
	}
	if cfg.Session.MaxTasks != 64 {
		t.Errorf("session.max_tasks default = %d, want 64", cfg.Session.MaxTasks)
	}
	if cfg.Session.TTLSeconds != 0 {
		t.Errorf("session.ttl_seconds default = %d, want 0 (disabled)", cfg.Session.TTLSeconds)
	}
	if cfg.Memory.ReadLimit != 20 {
		t.Errorf("memory.read_limit default = %d, want 20", cfg.Memory.ReadLimit)
	}
	if cfg.Workers.MaxConcurrent != 8 {
		t.Errorf("workers.max_concurrent default = %d, want 8", cfg.Workers.MaxConcurrent)
	}
	if cfg.Janitor.Schedule != "*/5 * * * *" {
		t.Errorf("janitor.schedule default = %q", cfg.Janitor.Schedule)
	}
}

func TestParse_MissingExecutorURL(t *testing.T) {
	_, err := Parse([]byte("server:\n  port: 8000\n"))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "executor.url is required") {
		t.Errorf("error = %q, want executor.url complaint", err.Error())
	}
}

func TestParse_BadDriver(t *testing.T) {
	yaml := "database:\n  driver: postgres\nexecutor:\n  url: http://x/run\n"
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "database.driver") {
		t.Errorf("error = %q, want database.driver complaint", err.Error())
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("server: [not a map"))
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Executor.URL != "http://localhost:9000/run" {
		t.Errorf("executor.url = %q", cfg.Executor.URL)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
