// modkit-devhost drives one module instance for development.
//
// It persists the instance in SQLite, talks to the module over MQTT,
// optionally records variable and feedback history in InfluxDB, and exposes
// everything through a REST API with a websocket event stream. Once the
// module answers, the instance is initialised with its stored state.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-modkit/internal/devhost"
	"github.com/nerrad567/gray-logic-modkit/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-modkit/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-modkit/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-modkit/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-modkit/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-modkit/internal/infrastructure/probes"
	"github.com/nerrad567/gray-logic-modkit/internal/ipc"
	"github.com/nerrad567/gray-logic-modkit/internal/protocol"
	"github.com/nerrad567/gray-logic-modkit/migrations"
)

// Version information - set at build time via ldflags
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	serviceName       = "modkit-devhost"
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

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.DevHost.Database.Path,
		WALMode:     cfg.DevHost.Database.WALMode,
		BusyTimeout: cfg.DevHost.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.DevHost.Database.Path)

	// Connect to MQTT broker
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
	log.Info("MQTT connected", "broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port))

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.DevHost.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.DevHost.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.DevHost.InfluxDB.URL, "bucket", cfg.DevHost.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	peer, err := ipc.NewPeer(ipc.Options{
		Carrier:     ipc.HostCarrier(mqttClient, cfg.Instance.ID, byte(cfg.MQTT.QoS)),
		Logger:      log.Component("ipc"),
		PoolSize:    cfg.Runtime.WorkerPoolSize,
		CallTimeout: time.Duration(cfg.Runtime.CallTimeout) * time.Second,
		Metrics:     ipc.NewMetrics(reg, "host"),
	})
	if err != nil {
		return fmt.Errorf("creating peer: %w", err)
	}
	defer peer.Close() //nolint:errcheck // Shutdown path

	hub := devhost.NewHub(cfg.DevHost.WebSocket, log.Component("websocket"))
	opts := devhost.Options{
		InstanceID: cfg.Instance.ID,
		Label:      cfg.Instance.Label,
		Peer:       peer,
		Store:      devhost.NewStore(db),
		Logger:     log.Component("devhost"),
		Events:     hub,
	}
	deps := devhost.ServerDeps{
		Config:  cfg.DevHost.API,
		WS:      cfg.DevHost.WebSocket,
		Logger:  log.Component("api"),
		Hub:     hub,
		Version: version,
	}
	readiness := map[string]probes.Checker{
		"database": db,
		"mqtt":     mqttClient,
	}
	if influxClient != nil {
		opts.History = influxClient
		deps.History = influxClient
		readiness["influxdb"] = influxClient
	}
	deps.Probes = probes.NewHandler(readiness)
	if cfg.Metrics.Enabled {
		deps.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	host, err := devhost.New(ctx, opts)
	if err != nil {
		return fmt.Errorf("creating host: %w", err)
	}
	deps.Host = host

	if err := peer.Start(); err != nil {
		return fmt.Errorf("starting peer: %w", err)
	}

	srv, err := devhost.NewServer(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	go initWhenReady(ctx, host, cfg.MQTT.Reconnect, log)

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: API server, peer, InfluxDB, MQTT, database.
	return nil
}

// initWhenReady initialises the instance, retrying while the module is not
// answering. A module that is already initialised is left as it is.
func initWhenReady(ctx context.Context, host *devhost.Host, cfg config.MQTTReconnectConfig, log *logging.Logger) {
	b := backoff.NewExponentialBackOff()
	if cfg.InitialDelay > 0 {
		b.InitialInterval = time.Duration(cfg.InitialDelay) * time.Second
	}
	if cfg.MaxDelay > 0 {
		b.MaxInterval = time.Duration(cfg.MaxDelay) * time.Second
	}
	b.MaxElapsedTime = 0

	op := func() error {
		_, err := host.Init(ctx)
		switch {
		case err == nil:
			return nil
		case ipc.CodeOf(err) == protocol.CodeAlreadyInitialized:
			return backoff.Permanent(err)
		case errors.Is(err, ipc.ErrTimeout), errors.Is(err, ipc.ErrSendFailed):
			log.Info("module not answering yet", "error", err)
			return err
		default:
			// Rejected by the module; POST /init retries once it is fixed.
			return backoff.Permanent(err)
		}
	}

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if ctx.Err() == nil {
			log.Warn("instance not initialised automatically", "error", err)
		}
		return
	}
	log.Info("instance initialised", "instance_id", host.InstanceID())
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
