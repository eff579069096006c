package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fleetsync.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadReplica(t *testing.T) {
	path := writeConfig(t, `
mode: replica
shipId: ship-42
databaseUrl: postgres://localhost/fleetsync
bus:
  brokers: ["kafka-1:9092", "kafka-2:9092"]
sync:
  batchSize: 10
  debounceMs: 250
media:
  enabled: true
  masterStore:
    endpoint: oss.example.com
    bucket: cms-media
    baseUrl: https://oss.example.com/cms-media
    uploadPath: uploads
  localStore:
    endpoint: minio:9000
    bucket: media
    baseUrl: http://minio:9000/media
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}

	if cfg.Mode != ModeReplica {
		t.Errorf("Mode = %q", cfg.Mode)
	}
	if cfg.PeerID() != "ship-42" {
		t.Errorf("PeerID() = %q", cfg.PeerID())
	}
	if cfg.Sync.BatchSize != 10 {
		t.Errorf("BatchSize = %d", cfg.Sync.BatchSize)
	}
	if cfg.Sync.DebounceMs != 250 {
		t.Errorf("DebounceMs = %d", cfg.Sync.DebounceMs)
	}

	// Defaults fill everything the file omits
	if cfg.Sync.RetryAttempts != 3 {
		t.Errorf("RetryAttempts = %d, want default 3", cfg.Sync.RetryAttempts)
	}
	if cfg.Bus.Topics.MasterUpdates != "master-updates" {
		t.Errorf("Topics.MasterUpdates = %q", cfg.Bus.Topics.MasterUpdates)
	}
	if cfg.Sync.PeerOnlineThresholdSec != 300 {
		t.Errorf("PeerOnlineThresholdSec = %d", cfg.Sync.PeerOnlineThresholdSec)
	}
	if !*cfg.Media.TransformURLs {
		t.Error("TransformURLs should default to true")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "missing mode",
			body: "databaseUrl: x\nbus: {brokers: [b]}\n",
		},
		{
			name: "bad mode",
			body: "mode: standby\ndatabaseUrl: x\nbus: {brokers: [b]}\n",
		},
		{
			name: "replica without shipId",
			body: "mode: replica\ndatabaseUrl: x\nbus: {brokers: [b]}\n",
		},
		{
			name: "missing brokers",
			body: "mode: master\ndatabaseUrl: x\n",
		},
		{
			name: "bad merge strategy",
			body: "mode: master\ndatabaseUrl: x\nbus: {brokers: [b]}\nsync: {mergeStrategy: theirs}\n",
		},
		{
			name: "media enabled without stores",
			body: "mode: master\ndatabaseUrl: x\nbus: {brokers: [b]}\nmedia: {enabled: true}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Error("Load() succeeded, want validation error")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "mode: master\ndatabaseUrl: file-db\nbus: {brokers: [file-broker]}\n")

	t.Setenv("FLEETSYNC_MODE", "replica")
	t.Setenv("SHIP_ID", "ship-9")
	t.Setenv("DATABASE_URL", "env-db")
	t.Setenv("KAFKA_BROKERS", "env-1:9092,env-2:9092")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}

	if cfg.Mode != ModeReplica || cfg.ShipID != "ship-9" || cfg.DatabaseURL != "env-db" {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
	if len(cfg.Bus.Brokers) != 2 || cfg.Bus.Brokers[0] != "env-1:9092" {
		t.Errorf("Brokers = %v", cfg.Bus.Brokers)
	}
}

func TestAllowsContentType(t *testing.T) {
	c := &Config{}
	if !c.AllowsContentType("api::article.article") {
		t.Error("empty allow-list should allow all")
	}

	c.ContentTypes = []string{"api::article.article"}
	if !c.AllowsContentType("api::article.article") {
		t.Error("listed type should be allowed")
	}
	if c.AllowsContentType("api::page.page") {
		t.Error("unlisted type should be denied")
	}
}
