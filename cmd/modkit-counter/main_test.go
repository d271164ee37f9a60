package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("MODKIT_CONFIG", "/nonexistent/path/modkit.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_BrokerUnreachable verifies run gives up after the configured
// number of connection attempts.
func TestRun_BrokerUnreachable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modkit.yaml")
	content := `
instance:
  id: test-instance
mqtt:
  broker:
    host: "127.0.0.1"
    port: 1
    client_id: "modkit-test"
  reconnect:
    max_attempts: 1
logging:
  level: error
  format: text
  output: stdout
metrics:
  enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("MODKIT_CONFIG", path)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail when the broker is unreachable")
	}
	if !strings.Contains(err.Error(), "connecting to MQTT") {
		t.Errorf("run() error = %v, want MQTT connection error", err)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("MODKIT_CONFIG", "")
	t.Setenv("MODKIT_INSTANCE_ID", "from-env")
	chdir(t, t.TempDir())

	cfg, path, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if path != "(defaults)" {
		t.Errorf("path = %q, want (defaults)", path)
	}
	if cfg.Instance.ID != "from-env" {
		t.Errorf("Instance.ID = %q, want from-env", cfg.Instance.ID)
	}
}

func TestLoadConfig_DefaultPath(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "configs"), 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, defaultConfigPath), []byte("instance:\n  id: on-disk\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MODKIT_CONFIG", "")
	t.Setenv("MODKIT_INSTANCE_ID", "")
	chdir(t, dir)

	cfg, path, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if path != defaultConfigPath {
		t.Errorf("path = %q, want %q", path, defaultConfigPath)
	}
	if cfg.Instance.ID != "on-disk" {
		t.Errorf("Instance.ID = %q, want on-disk", cfg.Instance.ID)
	}
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(wd); err != nil {
			t.Fatal(err)
		}
	})
}
