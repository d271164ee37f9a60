package influxdb_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-modkit/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-modkit/internal/infrastructure/influxdb"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "modkit-dev-token",
		Org:           "graylogic",
		Bucket:        "modkit",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// connectOrSkip connects to the dev InfluxDB, skipping the test when it is
// not running unless RUN_INTEGRATION is set.
func connectOrSkip(t *testing.T) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(testConfig())
	if err != nil {
		if os.Getenv("RUN_INTEGRATION") == "" {
			t.Skip("InfluxDB not available, skipping integration test")
		}
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client
}

// recordErrors captures asynchronous write failures.
func recordErrors(client *influxdb.Client) func() error {
	var mu sync.Mutex
	var last error
	client.SetOnError(func(err error) {
		mu.Lock()
		last = err
		mu.Unlock()
	})
	return func() error {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

func TestConnect(t *testing.T) {
	client := connectOrSkip(t)
	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestHealthCheck(t *testing.T) {
	client := connectOrSkip(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	if err := client.HealthCheck(cancelled); err == nil {
		t.Error("HealthCheck() with cancelled context succeeded")
	}
}

func TestWriteAndQueryVariable(t *testing.T) {
	client := connectOrSkip(t)
	lastErr := recordErrors(client)

	since := time.Now().Add(-time.Minute)
	instanceID := "test-" + time.Now().Format("150405.000000")
	client.WriteVariableValue(instanceID, "counter", "count", 1.0)
	client.WriteVariableValue(instanceID, "counter", "count", 2.0)
	client.WriteVariableValue(instanceID, "counter", "count", nil)
	client.WriteFeedbackValue(instanceID, "count_above", "bank1-1", true)
	client.WriteStatus(instanceID, "ok", "")
	client.Flush()

	time.Sleep(100 * time.Millisecond)
	if err := lastErr(); err != nil {
		t.Fatalf("write error = %v", err)
	}

	samples, err := client.VariableHistory(context.Background(), instanceID, "count", since)
	if err != nil {
		t.Fatalf("VariableHistory() error = %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("VariableHistory() returned %d samples, want 2", len(samples))
	}
	if samples[1].Value != 2.0 {
		t.Errorf("latest sample = %v, want 2", samples[1].Value)
	}
}

func TestClose(t *testing.T) {
	client := connectOrSkip(t)

	client.WriteVariableValue("close-test", "counter", "count", 1.0)
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}

	// Writes and flushes after close are dropped.
	client.WriteVariableValue("close-test", "counter", "count", 2.0)
	client.Flush()
}

func TestNilClient(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
	if client.IsConnected() {
		t.Error("nil client reports connected")
	}
	if _, err := client.VariableHistory(context.Background(), "i", "v", time.Now()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("VariableHistory() on nil client error = %v, want ErrNotConnected", err)
	}
}
