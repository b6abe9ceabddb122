package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSessionRegistry implements SessionRegistry in Redis. Each session is
// a hash at {prefix}:session:<handle>; {prefix}:refresh:<token-hash> holds
// the handle, {prefix}:user:<id> indexes a user's handles and {prefix}:users
// lists the user ids that have an index. Session and refresh keys carry the
// same EXPIREAT, so registry-side expiry needs no sweeper.
//
// The braces make the prefix a Redis Cluster hash tag: every key of a
// registry hashes to one slot, so the multi-key scripts below run unchanged
// against a cluster client.
type RedisSessionRegistry struct {
	rdb redis.UniversalClient
	tag string
}

// NewRedisSessionRegistry returns a registry using rdb. prefix namespaces
// every key; it defaults to "atcs".
func NewRedisSessionRegistry(rdb redis.UniversalClient, prefix string) *RedisSessionRegistry {
	if prefix == "" {
		prefix = "atcs"
	}
	return &RedisSessionRegistry{rdb: rdb, tag: "{" + prefix + "}"}
}

func (r *RedisSessionRegistry) sessionKey(handle string) string {
	return r.tag + ":session:" + handle
}

func (r *RedisSessionRegistry) refreshKey(tokenHash string) string {
	return r.tag + ":refresh:" + tokenHash
}

func (r *RedisSessionRegistry) userKey(userID int64) string {
	return r.tag + ":user:" + strconv.FormatInt(userID, 10)
}

func (r *RedisSessionRegistry) usersKey() string {
	return r.tag + ":users"
}

// deleteSessionLua removes the session hash, its refresh key and its user
// index entry in one step. KEYS are session, refresh and user keys; ARGV[1]
// is the token hash read beforehand and ARGV[2] the handle. A hash whose
// token_hash no longer matches was deleted or replaced in between and is
// left alone.
var deleteSessionLua = redis.NewScript(`
if redis.call("HGET", KEYS[1], "token_hash") ~= ARGV[1] then
  return 0
end
redis.call("DEL", KEYS[1], KEYS[2])
redis.call("SREM", KEYS[3], ARGV[2])
return 1
`)

// touchSessionLua sets last_used only if the session still exists, so a
// touch racing a logout cannot resurrect a TTL-less hash.
var touchSessionLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "last_used", ARGV[1])
return 1
`)

// Insert writes the session hash, refresh pointer and user index atomically.
func (r *RedisSessionRegistry) Insert(ctx context.Context, s *Session) error {
	key := r.sessionKey(s.Handle)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"handle":     s.Handle,
			"token_hash": s.TokenHash,
			"user_id":    s.UserID,
			"expires_at": formatTime(s.ExpiresAt),
			"ip_address": s.IPAddress,
			"user_agent": s.UserAgent,
			"created_at": formatTime(s.CreatedAt),
			"last_used":  formatTime(s.LastUsed),
		})
		pipe.ExpireAt(ctx, key, s.ExpiresAt)
		pipe.Set(ctx, r.refreshKey(s.TokenHash), s.Handle, 0)
		pipe.ExpireAt(ctx, r.refreshKey(s.TokenHash), s.ExpiresAt)
		pipe.SAdd(ctx, r.userKey(s.UserID), s.Handle)
		pipe.ExpireAt(ctx, r.userKey(s.UserID), s.ExpiresAt)
		pipe.SAdd(ctx, r.usersKey(), s.UserID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// FindByRefreshToken resolves the refresh pointer and then the session.
// Owner and expiry are re-checked against the stored hash.
func (r *RedisSessionRegistry) FindByRefreshToken(ctx context.Context, refreshToken string, userID int64, now time.Time) (*Session, error) {
	handle, err := r.rdb.Get(ctx, r.refreshKey(HashToken(refreshToken))).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("resolving refresh token: %w", err)
	}

	s, err := r.FindByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	if s.UserID != userID || s.ExpiresAt.Before(now.Truncate(time.Second)) {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// FindByHandle reads the session hash named by handle.
func (r *RedisSessionRegistry) FindByHandle(ctx context.Context, handle string) (*Session, error) {
	fields, err := r.rdb.HGetAll(ctx, r.sessionKey(handle)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}
	return sessionFromFields(fields)
}

// DeleteByHandle removes the session and both of its secondary keys.
func (r *RedisSessionRegistry) DeleteByHandle(ctx context.Context, handle string) (*Session, error) {
	s, err := r.FindByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	keys := []string{r.sessionKey(handle), r.refreshKey(s.TokenHash), r.userKey(s.UserID)}
	n, err := deleteSessionLua.Run(ctx, r.rdb, keys, s.TokenHash, handle).Int()
	if err != nil {
		return nil, fmt.Errorf("deleting session: %w", err)
	}
	if n == 0 {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// DeleteByUser removes every session indexed under the user.
func (r *RedisSessionRegistry) DeleteByUser(ctx context.Context, userID int64) (int, error) {
	handles, err := r.rdb.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("listing user sessions: %w", err)
	}
	deleted := 0
	for _, h := range handles {
		if _, err := r.DeleteByHandle(ctx, h); err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				continue
			}
			return deleted, err
		}
		deleted++
	}
	if err := r.rdb.Del(ctx, r.userKey(userID)).Err(); err != nil {
		return deleted, fmt.Errorf("clearing user index: %w", err)
	}
	return deleted, nil
}

// TouchLastUsed records the refresh time on a live session.
func (r *RedisSessionRegistry) TouchLastUsed(ctx context.Context, handle string, at time.Time) error {
	n, err := touchSessionLua.Run(ctx, r.rdb, []string{r.sessionKey(handle)}, formatTime(at)).Int()
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteExpired prunes handles of already-expired sessions from the user
// index sets, and user ids whose index is gone from the users set. The
// sessions themselves are removed by Redis key expiry.
func (r *RedisSessionRegistry) DeleteExpired(ctx context.Context, _ time.Time) (int, error) {
	ids, err := r.rdb.SMembers(ctx, r.usersKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("listing indexed users: %w", err)
	}
	pruned := 0
	for _, id := range ids {
		userKey := r.tag + ":user:" + id
		handles, err := r.rdb.SMembers(ctx, userKey).Result()
		if err != nil {
			return pruned, fmt.Errorf("listing %s: %w", userKey, err)
		}
		if len(handles) == 0 {
			if err := r.rdb.SRem(ctx, r.usersKey(), id).Err(); err != nil {
				return pruned, fmt.Errorf("pruning users index: %w", err)
			}
			continue
		}
		for _, h := range handles {
			exists, err := r.rdb.Exists(ctx, r.sessionKey(h)).Result()
			if err != nil {
				return pruned, fmt.Errorf("checking session: %w", err)
			}
			if exists == 0 {
				if err := r.rdb.SRem(ctx, userKey, h).Err(); err != nil {
					return pruned, fmt.Errorf("pruning %s: %w", userKey, err)
				}
				pruned++
			}
		}
	}
	return pruned, nil
}

func sessionFromFields(f map[string]string) (*Session, error) {
	userID, err := strconv.ParseInt(f["user_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt session %q: user_id: %w", f["handle"], err)
	}
	return &Session{
		Handle:    f["handle"],
		TokenHash: f["token_hash"],
		UserID:    userID,
		ExpiresAt: parseTime(f["expires_at"]),
		IPAddress: f["ip_address"],
		UserAgent: f["user_agent"],
		CreatedAt: parseTime(f["created_at"]),
		LastUsed:  parseTime(f["last_used"]),
	}, nil
}
