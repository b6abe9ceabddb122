package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/flextraff/atcs-core/internal/api"
	"github.com/flextraff/atcs-core/internal/auth"
	"github.com/flextraff/atcs-core/internal/infrastructure/config"
	"github.com/flextraff/atcs-core/internal/infrastructure/database"
	"github.com/flextraff/atcs-core/internal/infrastructure/logging"
)

const testJWTSecret = "test-secret-for-development-only-0123456789"

// freePort returns a TCP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// writeConfig writes a minimal config with the relay disabled.
func writeConfig(t *testing.T, dbPath string, port int, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := fmt.Sprintf(`
site:
  id: test-site

database:
  path: %q
  wal_mode: true
  busy_timeout: 5

api:
  host: "127.0.0.1"
  port: %d

logging:
  level: warn
  format: text
  output: stderr

security:
  jwt:
    secret: %q
%s`, dbPath, port, testJWTSecret, extra)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("ATCS_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingSecret verifies run refuses to start without a signing secret.
func TestRun_MissingSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("site:\n  id: test-site\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ATCS_CONFIG", path)
	t.Setenv("ATCS_JWT_SECRET", "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail without security.jwt.secret")
	}
}

// TestRun_StartupAndShutdown boots the service with the relay disabled and
// checks the first-boot admin was seeded.
func TestRun_StartupAndShutdown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "atcs.db")
	t.Setenv("ATCS_CONFIG", writeConfig(t, dbPath, freePort(t), ""))

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	db, err := database.Open(context.Background(), database.Config{Path: dbPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("reopen database: %v", err)
	}
	defer db.Close()

	n, err := auth.NewUserDirectory(db.DB).Count(context.Background())
	if err != nil {
		t.Fatalf("count users: %v", err)
	}
	if n != 1 {
		t.Errorf("users after first boot = %d, want 1 seeded admin", n)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("ATCS_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("ATCS_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestOpenSessions_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	checks := map[string]api.HealthChecker{}

	reg, closeFn, err := openSessions(t.Context(), config.SessionsConfig{
		Backend: config.SessionBackendRedis,
		Redis:   config.RedisConfig{Addr: mr.Addr(), KeyPrefix: "test"},
	}, nil, checks)
	if err != nil {
		t.Fatalf("openSessions() error = %v", err)
	}
	defer closeFn()

	if _, ok := reg.(*auth.RedisSessionRegistry); !ok {
		t.Errorf("registry = %T, want *auth.RedisSessionRegistry", reg)
	}
	check, ok := checks["redis"]
	if !ok {
		t.Fatal("redis health check not registered")
	}
	if err := check.HealthCheck(t.Context()); err != nil {
		t.Errorf("redis HealthCheck() error = %v", err)
	}

	mr.Close()
	if err := check.HealthCheck(t.Context()); err == nil {
		t.Error("HealthCheck() should fail once redis is gone")
	}
}

func TestOpenSessions_RedisUnreachable(t *testing.T) {
	_, _, err := openSessions(t.Context(), config.SessionsConfig{
		Backend: config.SessionBackendRedis,
		Redis:   config.RedisConfig{Addr: fmt.Sprintf("127.0.0.1:%d", freePort(t))},
	}, nil, map[string]api.HealthChecker{})
	if err == nil {
		t.Fatal("openSessions() should fail when redis is unreachable")
	}
}

func TestOpenSessions_SQLite(t *testing.T) {
	db, err := database.Open(t.Context(), database.Config{Path: filepath.Join(t.TempDir(), "s.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	reg, closeFn, err := openSessions(t.Context(), config.SessionsConfig{Backend: config.SessionBackendSQLite}, db, map[string]api.HealthChecker{})
	if err != nil {
		t.Fatalf("openSessions() error = %v", err)
	}
	closeFn()
	if _, ok := reg.(*auth.SQLiteSessionRegistry); !ok {
		t.Errorf("registry = %T, want *auth.SQLiteSessionRegistry", reg)
	}
}

type stubCheck struct{ err error }

func (s stubCheck) HealthCheck(context.Context) error { return s.err }

func TestHealthCheck(t *testing.T) {
	ok := map[string]api.HealthChecker{"database": stubCheck{}, "mqtt": stubCheck{}}
	if err := healthCheck(t.Context(), ok); err != nil {
		t.Errorf("healthCheck() error = %v", err)
	}

	down := errors.New("broker down")
	failing := map[string]api.HealthChecker{"database": stubCheck{}, "mqtt": stubCheck{err: down}}
	err := healthCheck(t.Context(), failing)
	if !errors.Is(err, down) {
		t.Errorf("healthCheck() error = %v, want %v", err, down)
	}
}

func TestPurgeLoop_DisabledReturns(t *testing.T) {
	done := make(chan struct{})
	go func() {
		purgeLoop(t.Context(), nil, 0, logging.Default())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("purgeLoop with zero interval should return immediately")
	}
}
