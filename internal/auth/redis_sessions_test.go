package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T, now time.Time) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	mr.SetTime(now)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // test cleanup
	return mr, client
}

func TestRedisSessionRegistry(t *testing.T) {
	now := newFakeClock().Now()
	_, client := newTestRedis(t, now)

	sessionRegistryContract(t, NewRedisSessionRegistry(client, "test"), 1, 2, now)
}

func TestRedisSessionRegistry_KeysExpireWithSession(t *testing.T) {
	now := newFakeClock().Now()
	mr, client := newTestRedis(t, now)
	reg := NewRedisSessionRegistry(client, "")

	err := reg.Insert(t.Context(), &Session{
		Handle: "h1", TokenHash: HashToken("tok"), UserID: 7,
		ExpiresAt: now.Add(time.Hour), CreatedAt: now, LastUsed: now,
	})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	for _, key := range []string{"{atcs}:session:h1", "{atcs}:refresh:" + HashToken("tok"), "{atcs}:user:7"} {
		if !mr.Exists(key) {
			t.Fatalf("key %s missing", key)
		}
		if ttl := mr.TTL(key); ttl != time.Hour {
			t.Errorf("TTL(%s) = %v, want 1h", key, ttl)
		}
	}

	mr.FastForward(time.Hour + time.Second)
	if _, err := reg.FindByRefreshToken(t.Context(), "tok", 7, now); err == nil {
		t.Error("session should be gone once its key expired")
	}
}

func TestRedisSessionRegistry_DeleteExpiredPrunesIndex(t *testing.T) {
	now := newFakeClock().Now()
	mr, client := newTestRedis(t, now)
	reg := NewRedisSessionRegistry(client, "p")

	for _, s := range []*Session{
		{Handle: "short", TokenHash: HashToken("s"), UserID: 3, ExpiresAt: now.Add(time.Minute), CreatedAt: now, LastUsed: now},
		{Handle: "long", TokenHash: HashToken("l"), UserID: 3, ExpiresAt: now.Add(time.Hour), CreatedAt: now, LastUsed: now},
	} {
		if err := reg.Insert(t.Context(), s); err != nil {
			t.Fatal(err)
		}
	}

	mr.FastForward(2 * time.Minute)
	n, err := reg.DeleteExpired(t.Context(), now.Add(2*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("DeleteExpired() = %d, %v; want 1", n, err)
	}
	members, err := mr.Members("{p}:user:3")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 1 || members[0] != "long" {
		t.Errorf("index members = %v, want [long]", members)
	}

	// Once the user index itself expires the user id leaves the users set.
	mr.FastForward(time.Hour)
	if _, err := reg.DeleteExpired(t.Context(), now.Add(2*time.Hour)); err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if ids, _ := mr.Members("{p}:users"); len(ids) != 0 { //nolint:errcheck // missing set reads as empty
		t.Errorf("users index = %v, want empty", ids)
	}
}

func TestRedisSessionRegistry_KeysShareHashTag(t *testing.T) {
	now := newFakeClock().Now()
	mr, client := newTestRedis(t, now)
	reg := NewRedisSessionRegistry(client, "ctl")

	err := reg.Insert(t.Context(), &Session{
		Handle: "h1", TokenHash: HashToken("tok"), UserID: 5,
		ExpiresAt: now.Add(time.Hour), CreatedAt: now, LastUsed: now,
	})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	keys := mr.Keys()
	if len(keys) != 4 {
		t.Fatalf("keys = %v, want session, refresh, user and users", keys)
	}
	for _, k := range keys {
		if !strings.HasPrefix(k, "{ctl}:") {
			t.Errorf("key %q is outside the {ctl} hash tag", k)
		}
	}

	if _, err := reg.DeleteByHandle(t.Context(), "h1"); err != nil {
		t.Fatalf("DeleteByHandle() error = %v", err)
	}
	for _, k := range []string{"{ctl}:session:h1", "{ctl}:refresh:" + HashToken("tok")} {
		if mr.Exists(k) {
			t.Errorf("key %s survived delete", k)
		}
	}
	if ok, _ := mr.SIsMember("{ctl}:user:5", "h1"); ok { //nolint:errcheck // missing set reads as absent
		t.Error("handle still indexed under user after delete")
	}
}

func TestRedisSessionRegistry_WithService(t *testing.T) {
	env := newTestEnv(t)
	_, client := newTestRedis(t, env.clock.Now())
	env.seedUser(t, "alice", RoleOperator, 4)

	svc, err := NewService(ServiceDeps{
		Users:    env.users,
		Sessions: NewRedisSessionRegistry(client, "svc"),
		Codec:    testCodec(t, env.clock),
		Logger:   discardLogger(),
		Now:      env.clock.Now,
	})
	if err != nil {
		t.Fatal(err)
	}

	pair, err := svc.Login(t.Context(), "alice", testPassword, testClient)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if _, err := svc.Refresh(t.Context(), pair.RefreshToken); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if err := svc.Logout(t.Context(), ownerOf(pair), pair.SessionHandle, testClient); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := svc.Refresh(t.Context(), pair.RefreshToken); err == nil {
		t.Error("Refresh() after logout should fail")
	}
}
