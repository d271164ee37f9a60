package probes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/heptiolabs/healthcheck"
)

const (
	// checkTimeout bounds a single readiness check.
	checkTimeout = 2 * time.Second

	// maxGoroutines fails liveness when exceeded; a leak this size means
	// the process should be restarted.
	maxGoroutines = 10000
)

// Checker is implemented by the infrastructure clients.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

// HealthCheck calls f.
func (f CheckerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// NewHandler returns a handler serving /live and /ready. Each entry of
// readiness becomes a named readiness check; nil entries are skipped.
func NewHandler(readiness map[string]Checker) healthcheck.Handler {
	h := healthcheck.NewHandler()
	h.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(maxGoroutines))
	for name, c := range readiness {
		if c == nil {
			continue
		}
		h.AddReadinessCheck(name, check(c))
	}
	return h
}

func check(c Checker) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		return c.HealthCheck(ctx)
	}
}

// Mount registers h on r at /live and /ready.
func Mount(r chi.Router, h http.Handler) {
	r.Handle("/live", h)
	r.Handle("/ready", h)
}
