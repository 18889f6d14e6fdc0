package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/ipx800-bridge/internal/bridges/ipx800"
	"github.com/nerrad567/ipx800-bridge/internal/device"
	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/config"
	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Controller is the slice of *ipx800.Controller the API drives.
type Controller interface {
	SetChannel(ctx context.Context, index int, on bool, source string) (device.Command, error)
	Toggle(ctx context.Context, index int, source string) (device.Command, error)
	Refresh(ctx context.Context) error
	ApplyWebhook(index int, on bool) error
	Store() *device.Store
	DeviceID() string
	ChannelName(index int) string
	DeviceInfo() ipx800.DeviceInfo
	PollStatus() ipx800.PollStatus
}

// HistoryReader reads the channel audit trail.
type HistoryReader interface {
	GetHistory(ctx context.Context, deviceID string, channel, limit int) ([]device.StateHistoryEntry, error)
}

// JournalReader reads the command journal.
type JournalReader interface {
	ListCommands(ctx context.Context, deviceID string, limit int) ([]device.CommandRecord, error)
}

// BridgeMetrics reports MQTT bridge counters on /api/v1/health.
type BridgeMetrics interface {
	GetMetrics() ipx800.BridgeMetrics
}

// HealthChecker is implemented by infrastructure clients (database, MQTT,
// InfluxDB) reported on /api/v1/health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Webhook  config.WebhookConfig
	Logger   *logging.Logger

	Controller Controller

	// History and Journal are nil when the database is disabled.
	History HistoryReader
	Journal JournalReader

	// Checks are reported by name on the health endpoint.
	Checks map[string]HealthChecker

	// Bridge is nil when MQTT is disabled.
	Bridge BridgeMetrics

	Version string
}

// Server is the HTTP API server for the bridge.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	webhookCfg config.WebhookConfig
	logger     *logging.Logger
	controller Controller
	history    HistoryReader
	journal    JournalReader
	checks     map[string]HealthChecker
	bridge     BridgeMetrics
	version    string
	startedAt  time.Time

	server      *http.Server
	listener    net.Listener
	hub         *Hub
	unsubscribe func()
	cancel      context.CancelFunc // cancels background goroutines on Close()
	closeOnce   sync.Once
}

// New creates a new API server. It is not listening until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		webhookCfg: deps.Webhook,
		logger:     deps.Logger,
		controller: deps.Controller,
		history:    deps.History,
		journal:    deps.Journal,
		checks:     deps.Checks,
		bridge:     deps.Bridge,
		version:    deps.Version,
		hub:        NewHub(deps.WS, deps.Logger),
		startedAt:  time.Now(),
	}, nil
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener, subscribes the WebSocket hub to the state
// store and serves in a background goroutine. A bind failure is returned
// synchronously.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	s.unsubscribe = s.controller.Store().Subscribe(s.broadcastChange)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		s.unsubscribe()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close waits up to 10 seconds for in-flight requests, then closes the
// remaining connections and every WebSocket client.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	var err error
	s.closeOnce.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		if s.cancel != nil {
			s.cancel()
		}

		ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		s.logger.Info("API server shutting down")
		if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("shutting down API server: %w", shutdownErr)
		}
	})
	return err
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
