// Package api provides the HTTP REST API and WebSocket log stream for the
// ATCS core.
//
// It exposes login, token refresh and logout, junction access checks, the
// admin surface over users and junction grants, the audit trail, Prometheus
// metrics, and a live log stream for operator consoles.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/flextraff/atcs-core/internal/audit"
	"github.com/flextraff/atcs-core/internal/auth"
	"github.com/flextraff/atcs-core/internal/infrastructure/config"
	"github.com/flextraff/atcs-core/internal/infrastructure/influxdb"
	"github.com/flextraff/atcs-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// healthCheckTimeout bounds each dependency probe in /health.
const healthCheckTimeout = 2 * time.Second

// HealthChecker is a dependency probed by the /health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// TelemetryReader serves stored junction counts. *influxdb.Client satisfies it.
type TelemetryReader interface {
	QueryLaneCounts(ctx context.Context, junctionID int64, start, end time.Time, limit int) ([]influxdb.LaneCountSample, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Auth     *auth.Service
	Audit    audit.Repository
	// Checks are probed by /health, keyed by component name.
	Checks      map[string]HealthChecker
	Metrics     *Metrics // If nil, the server creates its own registry
	ExternalHub *Hub     // If set, the server uses this hub instead of creating its own
	Version     string

	// Telemetry is optional; without it /junctions/{id}/counts answers 503.
	Telemetry TelemetryReader
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	auth        *auth.Service
	auditRepo   audit.Repository
	telemetry   TelemetryReader
	checks      map[string]HealthChecker
	metrics     *Metrics
	tickets     *ticketStore
	limiter     *ipLimiter
	proxies     trustedProxies
	version     string
	server      *http.Server
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("auth service is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		auth:      deps.Auth,
		auditRepo: deps.Audit,
		telemetry: deps.Telemetry,
		checks:    deps.Checks,
		metrics:   deps.Metrics,
		tickets:   newTicketStore(ticketTTL),
		version:   deps.Version,
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	proxies, err := parseTrustedProxies(deps.Security.TrustedProxies)
	if err != nil {
		return nil, err
	}
	s.proxies = proxies
	if rl := deps.Security.RateLimit; rl.Enabled {
		s.limiter = newIPLimiter(rl.RequestsPerMinute, rl.Burst)
	}

	// Use externally-provided hub if available (needed when the log stream
	// is fed by components created before the server).
	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.WS, deps.Logger)
	}

	return s, nil
}

// Hub returns the WebSocket hub that log events are broadcast to.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and the ticket/rate-limit housekeeping, then
// launches the HTTP listener in a background goroutine. The server can be
// stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}
	go s.housekeepingLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub, housekeeping)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
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
