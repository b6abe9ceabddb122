package auth

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/flextraff/atcs-core/internal/infrastructure/database"
	"github.com/flextraff/atcs-core/migrations"
)

const testPassword = "correct-horse-battery"

// testPasswordHash is computed once; Argon2id at production cost is slow.
var testPasswordHash = sync.OnceValue(func() string {
	h, err := HashPassword(testPassword)
	if err != nil {
		panic(err)
	}
	return h
})

// testDB opens a temp-file SQLite database with the production migrations applied.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(t.Context(), database.Config{
		Path:        filepath.Join(t.TempDir(), "auth-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(t.Context(), migrations.FS); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db.DB
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSink captures audit events.
type recordingSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (r *recordingSink) Record(_ context.Context, e AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Action
	}
	return out
}

func (r *recordingSink) last() AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return AuditEvent{}
	}
	return r.events[len(r.events)-1]
}

type testEnv struct {
	db       *sql.DB
	users    *SQLiteUserDirectory
	sessions *SQLiteSessionRegistry
	audit    *recordingSink
	clock    *fakeClock
	svc      *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testDB(t)
	env := &testEnv{
		db:       db,
		users:    NewUserDirectory(db),
		sessions: NewSessionRegistry(db),
		audit:    &recordingSink{},
		clock:    newFakeClock(),
	}

	svc, err := NewService(ServiceDeps{
		Users:    env.users,
		Sessions: env.sessions,
		Audit:    env.audit,
		Codec:    testCodec(t, env.clock),
		Logger:   discardLogger(),
		Now:      env.clock.Now,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	env.svc = svc
	return env
}

// seedUser inserts an active user with testPassword and the given grants.
func (e *testEnv) seedUser(t *testing.T, username string, role Role, junctions ...int64) *User {
	t.Helper()
	return seedTestUser(t, e.users, username, role, junctions...)
}

func seedTestUser(t *testing.T, users *SQLiteUserDirectory, username string, role Role, junctions ...int64) *User {
	t.Helper()

	u := &User{
		Username:     username,
		FullName:     "Test " + username,
		PasswordHash: testPasswordHash(),
		Role:         role,
		IsActive:     true,
	}
	if err := users.Create(t.Context(), u); err != nil {
		t.Fatalf("creating user %s: %v", username, err)
	}
	for _, j := range junctions {
		if err := users.UpsertGrant(t.Context(), Grant{UserID: u.ID, JunctionID: j, Level: RoleObserver}); err != nil {
			t.Fatalf("granting junction %d: %v", j, err)
		}
	}
	return u
}

func countRows(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	if err := db.QueryRowContext(t.Context(), query, args...).Scan(&n); err != nil {
		t.Fatalf("count query %q: %v", query, err)
	}
	return n
}

// ownerOf is the identity of the user a token pair was issued to.
func ownerOf(pair *TokenPair) *Identity {
	return &Identity{UserID: pair.User.ID, Username: pair.User.Username, Role: pair.User.Role}
}
