package mqtt

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nerrad567/gray-logic-modkit/internal/infrastructure/config"
)

// stubConnect makes Connect fail failures times, then succeed.
func stubConnect(t *testing.T, failures int) *int {
	t.Helper()
	calls := 0
	orig := connectFunc
	connectFunc = func(config.MQTTConfig) (*Client, error) {
		calls++
		if calls <= failures {
			return nil, fmt.Errorf("%w: broker down", ErrConnectionFailed)
		}
		return &Client{routes: make(map[string]*route)}, nil
	}
	t.Cleanup(func() { connectFunc = orig })
	return &calls
}

func TestConnectWithRetry_SucceedsAfterFailure(t *testing.T) {
	calls := stubConnect(t, 1)
	logger := &mockLogger{}

	client, err := ConnectWithRetry(context.Background(), testConfig(), logger)
	if err != nil {
		t.Fatalf("ConnectWithRetry() error = %v", err)
	}
	if client == nil {
		t.Fatal("ConnectWithRetry() returned nil client")
	}
	if *calls != 2 {
		t.Errorf("connect called %d times, want 2", *calls)
	}
	if len(logger.warns) != 1 {
		t.Errorf("logged %d warnings, want 1", len(logger.warns))
	}
}

func TestConnectWithRetry_AttemptLimit(t *testing.T) {
	calls := stubConnect(t, 10)
	cfg := testConfig()
	cfg.Reconnect.MaxAttempts = 1

	_, err := ConnectWithRetry(context.Background(), cfg, nil)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("ConnectWithRetry() error = %v, want ErrConnectionFailed", err)
	}
	if *calls != 1 {
		t.Errorf("connect called %d times, want 1", *calls)
	}
}

func TestConnectWithRetry_ContextCancelled(t *testing.T) {
	calls := stubConnect(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ConnectWithRetry(ctx, testConfig(), nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ConnectWithRetry() error = %v, want context.Canceled", err)
	}
	if *calls != 1 {
		t.Errorf("connect called %d times, want 1", *calls)
	}
}
