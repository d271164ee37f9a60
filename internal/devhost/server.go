package devhost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-modkit/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-modkit/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-modkit/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// HistoryReader serves stored variable history. *influxdb.Client implements it.
type HistoryReader interface {
	VariableHistory(ctx context.Context, instanceID, variableID string, since time.Time) ([]influxdb.Sample, error)
}

// ServerDeps holds the dependencies of the REST server.
type ServerDeps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Host    *Host
	Hub     *Hub
	History HistoryReader // optional
	Metrics http.Handler  // optional, mounted at /metrics
	Probes  http.Handler  // optional, mounted at /live and /ready
	Version string
}

// Server is the dev host's REST and websocket front end.
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	logger  *logging.Logger
	host    *Host
	hub     *Hub
	history HistoryReader
	metrics http.Handler
	probes  http.Handler
	version string
	server  *http.Server
	cancel  context.CancelFunc
}

// NewServer creates a server. Start begins listening.
func NewServer(deps ServerDeps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Host == nil {
		return nil, fmt.Errorf("host is required")
	}
	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.WS, deps.Logger)
	}
	hub.SetSource(deps.Host)
	return &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		logger:  deps.Logger,
		host:    deps.Host,
		hub:     hub,
		history: deps.History,
		metrics: deps.Metrics,
		probes:  deps.Probes,
		version: deps.Version,
	}, nil
}

// Start begins serving in the background. It returns immediately.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("dev host API listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Close shuts the server down, waiting for in-flight requests.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	s.logger.Info("dev host API stopped")
	return nil
}

// HealthCheck reports whether the server is accepting requests.
func (s *Server) HealthCheck(_ context.Context) error {
	if s.server == nil {
		return errors.New("API server not started")
	}
	return nil
}
