package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Strob0t/AgentMesh/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentmesh.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := config.LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("default port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Broker.QueueCapacity != 100 {
		t.Errorf("default queue capacity = %d, want 100", cfg.Broker.QueueCapacity)
	}
	if cfg.Broker.DurableQueues {
		t.Error("durable queues should default to off")
	}
	if cfg.Coordinator.ConsensusThreshold != 0.75 {
		t.Errorf("default consensus threshold = %f, want 0.75", cfg.Coordinator.ConsensusThreshold)
	}
	if cfg.Coordinator.MaxRounds != 3 {
		t.Errorf("default max rounds = %d, want 3", cfg.Coordinator.MaxRounds)
	}
}

func TestLoadFrom_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
broker:
  queue_capacity: 500
  durable_queues: true
coordinator:
  max_rounds: 5
`)
	cfg, err := config.LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("port = %q, want 9090", cfg.Server.Port)
	}
	if cfg.Broker.QueueCapacity != 500 {
		t.Errorf("queue capacity = %d, want 500", cfg.Broker.QueueCapacity)
	}
	if !cfg.Broker.DurableQueues {
		t.Error("durable queues not read from yaml")
	}
	if cfg.Coordinator.MaxRounds != 5 {
		t.Errorf("max rounds = %d, want 5", cfg.Coordinator.MaxRounds)
	}
	// Untouched sections keep their defaults.
	if cfg.Broker.StaleThreshold != 30*time.Second {
		t.Errorf("stale threshold = %s, want 30s", cfg.Broker.StaleThreshold)
	}
}

func TestLoadFrom_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
`)
	t.Setenv("AGENTMESH_PORT", "7070")
	t.Setenv("AGENTMESH_QUEUE_CAPACITY", "250")
	t.Setenv("AGENTMESH_DURABLE_QUEUES", "true")
	t.Setenv("AGENTMESH_STALE_THRESHOLD", "10s")
	t.Setenv("AGENTMESH_CONSENSUS_THRESHOLD", "0.9")

	cfg, err := config.LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("env should beat yaml, port = %q", cfg.Server.Port)
	}
	if cfg.Broker.QueueCapacity != 250 {
		t.Errorf("queue capacity = %d, want 250", cfg.Broker.QueueCapacity)
	}
	if !cfg.Broker.DurableQueues {
		t.Error("durable queues not read from env")
	}
	if cfg.Broker.StaleThreshold != 10*time.Second {
		t.Errorf("stale threshold = %s, want 10s", cfg.Broker.StaleThreshold)
	}
	if cfg.Coordinator.ConsensusThreshold != 0.9 {
		t.Errorf("consensus threshold = %f, want 0.9", cfg.Coordinator.ConsensusThreshold)
	}
}

func TestLoadFrom_ValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"empty port", "server:\n  port: \"\"\n"},
		{"empty dsn", "postgres:\n  dsn: \"\"\n"},
		{"zero queue capacity", "broker:\n  queue_capacity: 0\n"},
		{"stale above disconnect", "broker:\n  stale_threshold: 2m\n  disconnect_threshold: 1m\n"},
		{"threshold above one", "coordinator:\n  consensus_threshold: 1.5\n"},
		{"zero threshold", "coordinator:\n  consensus_threshold: 0\n"},
		{"zero rounds", "coordinator:\n  max_rounds: 0\n"},
		{"short admin password", "auth:\n  admin_password: short\n"},
		{"zero burst", "rate:\n  burst: 0\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.yaml)
			if _, err := config.LoadFrom(path); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoadFrom_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map\n")
	if _, err := config.LoadFrom(path); err == nil {
		t.Error("expected parse error, got nil")
	}
}
