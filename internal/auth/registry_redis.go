package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	sweepScanCount = 100
	// lockTTL bounds how long a crashed holder can block a subject.
	lockTTL       = 10 * time.Second
	lockRetryWait = 10 * time.Millisecond
)

// unlockScript deletes the lock only while it still holds the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRegistry keeps refresh-token entries in Redis so every server instance
// shares one view of the live sessions. Entries expire natively; a set per
// subject indexes that subject's token keys for bulk revocation.
//
// Token strings are stored hashed, so a dump of the keyspace yields no
// usable refresh tokens.
type RedisRegistry struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time

	newLockToken func() string
}

var _ Registry = (*RedisRegistry)(nil)

// NewRedisRegistry returns a registry that namespaces its keys under prefix.
func NewRedisRegistry(client redis.UniversalClient, prefix string) *RedisRegistry {
	return &RedisRegistry{client: client, prefix: prefix, now: time.Now, newLockToken: uuid.NewString}
}

// Insert stores entry with a TTL matching its expiry. An entry that has
// already expired is not stored.
func (r *RedisRegistry) Insert(ctx context.Context, token string, entry Entry) error {
	key := r.tokenKey(token)
	ttl := entry.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return r.Remove(ctx, token)
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode registry entry: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, key, raw, ttl)
		p.SAdd(ctx, r.subjectKey(entry.SubjectID), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert registry entry: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Lookup(ctx context.Context, token string) (Entry, bool, error) {
	raw, err := r.client.Get(ctx, r.tokenKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("lookup registry entry: %w", err)
	}
	return decodeEntry(raw)
}

// Take relies on GETDEL so only one caller can receive the entry.
func (r *RedisRegistry) Take(ctx context.Context, token string) (Entry, bool, error) {
	key := r.tokenKey(token)
	raw, err := r.client.GetDel(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("take registry entry: %w", err)
	}

	entry, ok, err := decodeEntry(raw)
	if err != nil || !ok {
		return entry, ok, err
	}
	// The entry is already consumed. A member left behind in the subject
	// index points at a missing key and is pruned by SweepExpired.
	_ = r.client.SRem(ctx, r.subjectKey(entry.SubjectID), key).Err()
	return entry, true, nil
}

func (r *RedisRegistry) Remove(ctx context.Context, token string) error {
	_, _, err := r.Take(ctx, token)
	return err
}

func (r *RedisRegistry) RemoveAllForSubject(ctx context.Context, subjectID string) (int, error) {
	subjectKey := r.subjectKey(subjectID)
	members, err := r.client.SMembers(ctx, subjectKey).Result()
	if err != nil {
		return 0, fmt.Errorf("list subject sessions: %w", err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	var deleted *redis.IntCmd
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		deleted = p.Del(ctx, members...)
		p.SRem(ctx, subjectKey, toAny(members)...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("remove subject sessions: %w", err)
	}
	return int(deleted.Val()), nil
}

// LockSubject takes a SET NX lock with a TTL, polling until it is free or
// ctx is done.
func (r *RedisRegistry) LockSubject(ctx context.Context, subjectID string) (func(), error) {
	key := r.lockKey(subjectID)
	token := r.newLockToken()
	for {
		acquired, err := r.client.SetNX(ctx, key, token, lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("lock subject: %w", err)
		}
		if acquired {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryWait):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockTTL)
			defer cancel()
			_ = unlockScript.Run(unlockCtx, r.client, []string{key}, token).Err()
		})
	}, nil
}

// SweepExpired prunes subject index members whose token keys Redis has
// already expired. It returns the number of pruned members.
func (r *RedisRegistry) SweepExpired(ctx context.Context, _ time.Time) (int, error) {
	pruned := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"subject:*", sweepScanCount).Iterator()
	for iter.Next(ctx) {
		n, err := r.pruneSubject(ctx, iter.Val())
		pruned += n
		if err != nil {
			return pruned, err
		}
	}
	if err := iter.Err(); err != nil {
		return pruned, fmt.Errorf("scan subject index: %w", err)
	}
	return pruned, nil
}

func (r *RedisRegistry) pruneSubject(ctx context.Context, subjectKey string) (int, error) {
	members, err := r.client.SMembers(ctx, subjectKey).Result()
	if err != nil {
		return 0, fmt.Errorf("list subject sessions: %w", err)
	}

	var stale []any
	for _, member := range members {
		n, err := r.client.Exists(ctx, member).Result()
		if err != nil {
			return 0, fmt.Errorf("check session key: %w", err)
		}
		if n == 0 {
			stale = append(stale, member)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := r.client.SRem(ctx, subjectKey, stale...).Err(); err != nil {
		return 0, fmt.Errorf("prune subject sessions: %w", err)
	}
	return len(stale), nil
}

func (r *RedisRegistry) tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return r.prefix + "token:" + hex.EncodeToString(sum[:])
}

func (r *RedisRegistry) lockKey(subjectID string) string {
	return r.prefix + "lock:" + subjectID
}

func (r *RedisRegistry) subjectKey(subjectID string) string {
	return r.prefix + "subject:" + subjectID
}

func decodeEntry(raw []byte) (Entry, bool, error) {
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("decode registry entry: %w", err)
	}
	return entry, true, nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// ConnectRedis builds a client from a redis:// URL or a host:port address.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if opt, err := redis.ParseURL(redisURL); err == nil {
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
