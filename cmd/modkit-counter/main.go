// modkit-counter runs the example counter module as a standalone process.
//
// The process connects to the MQTT broker, serves one module instance on
// that instance's topic pair and waits for the host to initialise it. All
// state is held by the host; restarting the process loses nothing but the
// current count.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-modkit/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-modkit/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-modkit/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-modkit/internal/infrastructure/probes"
	"github.com/nerrad567/gray-logic-modkit/internal/instance"
	"github.com/nerrad567/gray-logic-modkit/internal/ipc"
	"github.com/nerrad567/gray-logic-modkit/internal/modules/counter"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	serviceName       = "modkit-counter"
	defaultConfigPath = "configs/modkit.yaml"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting "+serviceName,
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, path, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, serviceName, version)
	log.Info("configuration loaded", "path", path, "instance_id", cfg.Instance.ID)

	mqttClient, err := mqtt.ConnectWithRetry(ctx, cfg.MQTT, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	peer, err := ipc.NewPeer(ipc.Options{
		Carrier:     ipc.ModuleCarrier(mqttClient, cfg.Instance.ID, byte(cfg.MQTT.QoS)),
		Logger:      log.Component("ipc"),
		PoolSize:    cfg.Runtime.WorkerPoolSize,
		CallTimeout: time.Duration(cfg.Runtime.CallTimeout) * time.Second,
		Metrics:     ipc.NewMetrics(reg, "module"),
	})
	if err != nil {
		return fmt.Errorf("creating peer: %w", err)
	}
	defer peer.Close() //nolint:errcheck // Shutdown path

	inst, err := instance.New(func(i *instance.Instance) instance.Module {
		return counter.New(i)
	}, instance.Options{
		Peer:           peer,
		Logger:         log.Component("instance"),
		UpgradeScripts: counter.UpgradeScripts(),
		SerializeAll:   cfg.Runtime.SerializeAll,
		Metrics:        instance.NewMetrics(reg),
	})
	if err != nil {
		return fmt.Errorf("creating instance: %w", err)
	}
	defer inst.Close() //nolint:errcheck // Shutdown path

	if err := peer.Start(); err != nil {
		return fmt.Errorf("starting peer: %w", err)
	}
	log.Info("waiting for host", "instance_id", cfg.Instance.ID)

	if cfg.Metrics.Enabled {
		ready := probes.NewHandler(map[string]probes.Checker{"mqtt": mqttClient})
		stop := serveMetrics(cfg.Metrics, reg, ready, log)
		defer stop()
	}

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: metrics, instance, peer, MQTT.
	return nil
}

// loadConfig reads MODKIT_CONFIG, then the default path, and falls back to
// built-in defaults when neither exists.
func loadConfig() (*config.Config, string, error) {
	if path := os.Getenv("MODKIT_CONFIG"); path != "" {
		cfg, err := config.Load(path)
		return cfg, path, err
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		cfg, err := config.Load(defaultConfigPath)
		return cfg, defaultConfigPath, err
	}
	cfg, err := config.Default()
	return cfg, "(defaults)", err
}

// serveMetrics exposes reg on cfg.Path and the probes on /live and /ready.
// The returned func stops the server.
func serveMetrics(cfg config.MetricsConfig, reg *prometheus.Registry, ready http.Handler, log *logging.Logger) func() {
	r := chi.NewRouter()
	r.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	probes.Mount(r, ready)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("metrics listening", "address", srv.Addr, "path", cfg.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("metrics server shutdown", "error", err)
		}
	}
}
