package mqtt

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/gray-logic-modkit/internal/infrastructure/config"
)

// connectFunc is replaced in tests.
var connectFunc = Connect

// ConnectWithRetry calls Connect until it succeeds, ctx ends or the attempt
// limit in cfg.Reconnect is reached. Delays grow exponentially from
// InitialDelay to MaxDelay.
func ConnectWithRetry(ctx context.Context, cfg config.MQTTConfig, logger Logger) (*Client, error) {
	b := newBackOff(cfg.Reconnect)

	var (
		client  *Client
		attempt int
	)
	op := func() error {
		attempt++
		c, err := connectFunc(cfg)
		if err != nil {
			if logger != nil {
				logger.Warn("MQTT connection attempt failed", "attempt", attempt, "error", err)
			}
			return err
		}
		client = c
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("connecting to MQTT after %d attempts: %w", attempt, err)
	}
	return client, nil
}

func newBackOff(cfg config.MQTTReconnectConfig) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if cfg.InitialDelay > 0 {
		eb.InitialInterval = time.Duration(cfg.InitialDelay) * time.Second
	}
	if cfg.MaxDelay > 0 {
		eb.MaxInterval = time.Duration(cfg.MaxDelay) * time.Second
	}
	// Retry until stopped unless an attempt limit is set.
	eb.MaxElapsedTime = 0

	if cfg.MaxAttempts > 0 {
		return backoff.WithMaxRetries(eb, uint64(cfg.MaxAttempts-1))
	}
	return eb
}
