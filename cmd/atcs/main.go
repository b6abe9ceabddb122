// FlexTraff ATCS Core - credential and junction-access service
//
// This is the main entry point for the ATCS core. It serves:
//   - Admin-issued logins with short-lived access tokens and revocable sessions
//   - Junction-scoped authorization for operators and observers
//   - The MQTT relay between junction controllers and the timing calculator
//   - A live WebSocket stream of relay and service logs
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flextraff/atcs-core/internal/api"
	"github.com/flextraff/atcs-core/internal/audit"
	"github.com/flextraff/atcs-core/internal/auth"
	"github.com/flextraff/atcs-core/internal/infrastructure/config"
	"github.com/flextraff/atcs-core/internal/infrastructure/database"
	"github.com/flextraff/atcs-core/internal/infrastructure/influxdb"
	"github.com/flextraff/atcs-core/internal/infrastructure/logging"
	"github.com/flextraff/atcs-core/internal/infrastructure/mqtt"
	"github.com/flextraff/atcs-core/internal/relay"
	"github.com/flextraff/atcs-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// startupCheckTimeout bounds the initial health probe of every dependency.
const startupCheckTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting ATCS core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
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
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	checks := map[string]api.HealthChecker{"database": db}

	// Session registry
	sessions, closeSessions, err := openSessions(ctx, cfg.Security.Sessions, db, checks)
	if err != nil {
		return err
	}
	defer closeSessions()
	log.Info("session registry ready", "backend", cfg.Security.Sessions.Backend)

	// Audit trail: the recorder is closed after the API server so that
	// in-flight requests can still record.
	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo, log.Component("audit").Logger)
	defer recorder.Close()

	codec, err := auth.NewCodec(cfg.Security.JWT.Secret)
	if err != nil {
		return fmt.Errorf("creating token codec: %w", err)
	}
	authSvc, err := auth.NewService(auth.ServiceDeps{
		Users:      auth.NewUserDirectory(db.DB),
		Sessions:   sessions,
		Audit:      recorder,
		Codec:      codec,
		Logger:     log.Component("auth").Logger,
		AccessTTL:  cfg.Security.JWT.AccessTTL(),
		RefreshTTL: cfg.Security.JWT.RefreshTTL(),
	})
	if err != nil {
		return fmt.Errorf("creating auth service: %w", err)
	}

	if _, seedErr := authSvc.SeedAdmin(ctx, cfg.Security.BootstrapAdmin.Username); seedErr != nil {
		return fmt.Errorf("seeding admin: %w", seedErr)
	}

	go purgeLoop(ctx, authSvc, cfg.Security.Sessions.PurgeInterval(), log)

	metrics := api.NewMetrics()
	if regErr := metrics.RegisterGauge("audit_dropped_events",
		"Audit events dropped because the recorder buffer was full.",
		func() float64 { return float64(recorder.Dropped()) }); regErr != nil {
		return fmt.Errorf("registering metrics: %w", regErr)
	}

	// Relay dependencies connect before the API server so /health can
	// probe them from the first request.
	var (
		mqttClient   *mqtt.Client
		influxClient *influxdb.Client
	)
	if cfg.Relay.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		checks["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		switch {
		case errors.Is(err, influxdb.ErrDisabled):
			log.Info("InfluxDB disabled")
		case err != nil:
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		default:
			defer func() {
				log.Info("closing InfluxDB connection")
				if closeErr := influxClient.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			influxClient.SetOnError(func(err error) {
				log.Error("InfluxDB write error", "error", err)
			})
			checks["influxdb"] = influxClient
			log.Info("InfluxDB connected",
				"url", cfg.InfluxDB.URL,
				"org", cfg.InfluxDB.Org,
				"bucket", cfg.InfluxDB.Bucket,
			)
		}
	} else {
		log.Info("relay disabled, MQTT and InfluxDB not connected")
	}

	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Auth:     authSvc,
		Audit:    auditRepo,
		Checks:   checks,
		Metrics:  metrics,
		Version:  version,
	}
	if influxClient != nil {
		deps.Telemetry = influxClient
	}
	srv, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := srv.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if cfg.Relay.Enabled {
		r, relayErr := startRelay(cfg.Relay, mqttClient, influxClient, log.Broadcasting(srv.Hub()), metrics)
		if relayErr != nil {
			return relayErr
		}
		defer func() {
			log.Info("stopping relay")
			r.Stop()
		}()
	}

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	// Deferred calls run in reverse order:
	// relay, API server, InfluxDB, MQTT, audit recorder, sessions, database.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses ATCS_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("ATCS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// redisCheck adapts a Redis client to api.HealthChecker.
type redisCheck struct {
	rdb redis.UniversalClient
}

func (c redisCheck) HealthCheck(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// openSessions builds the configured session registry and registers its
// health check. The returned close func is always safe to call.
func openSessions(ctx context.Context, cfg config.SessionsConfig, db *database.DB, checks map[string]api.HealthChecker) (auth.SessionRegistry, func(), error) {
	if cfg.Backend != config.SessionBackendRedis {
		return auth.NewSessionRegistry(db.DB), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connecting to Redis at %s: %w", cfg.Redis.Addr, err)
	}
	checks["redis"] = redisCheck{rdb: rdb}
	return auth.NewRedisSessionRegistry(rdb, cfg.Redis.KeyPrefix), func() { _ = rdb.Close() }, nil
}

// purgeLoop deletes expired sessions every interval until ctx is done.
func purgeLoop(ctx context.Context, svc *auth.Service, interval time.Duration, log *logging.Logger) {
	if interval <= 0 {
		log.Info("session purge disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.PurgeExpiredSessions(ctx)
			if err != nil {
				log.Error("session purge failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info("expired sessions purged", "count", n)
			}
		}
	}
}

// startRelay creates the count relay and exposes its counters as metrics.
// influxClient may be nil when telemetry is disabled.
func startRelay(cfg config.RelayConfig, mqttClient *mqtt.Client, influxClient *influxdb.Client, log *logging.Logger, metrics *api.Metrics) (*relay.Relay, error) {
	opts := relay.Options{
		Config: cfg,
		Broker: mqttClient,
		Logger: log,
	}
	// Assigned only when non-nil so the interface stays nil.
	if influxClient != nil {
		opts.Telemetry = influxClient
	}

	r, err := relay.New(opts)
	if err != nil {
		return nil, fmt.Errorf("creating relay: %w", err)
	}

	gauges := []struct {
		name, help string
		fn         func() float64
	}{
		{"relay_messages_received", "Count messages received from junction controllers.",
			func() float64 { return float64(r.Stats().Received) }},
		{"relay_timings_published", "Green-time messages published to junction controllers.",
			func() float64 { return float64(r.Stats().Published) }},
		{"relay_messages_failed", "Count messages that could not be relayed.",
			func() float64 { return float64(r.Stats().Failed) }},
	}
	for _, g := range gauges {
		if err := metrics.RegisterGauge(g.name, g.help, g.fn); err != nil {
			return nil, fmt.Errorf("registering relay metrics: %w", err)
		}
	}

	if err := r.Start(); err != nil {
		return nil, fmt.Errorf("starting relay: %w", err)
	}
	return r, nil
}

// healthCheck probes every registered dependency once at startup and
// returns the first failure.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	ctx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
	defer cancel()

	for name, c := range checks {
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
