package sessions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRepository implements Repository using Redis as the backing store.
// Sessions are stored as JSON under "<prefix><jti>" with TTL = expiresAt - now;
// "<prefix>user:<userID>" is a set of the user's jtis used for global logout.
type RedisRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisRepository creates a Redis-based session repository. Prefix may be empty.
func NewRedisRepository(client *redis.Client, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "token:"
	}
	return &RedisRepository{client: client, prefix: prefix}
}

func (r *RedisRepository) key(id string) string {
	return r.prefix + id
}

func (r *RedisRepository) userKey(userID string) string {
	return r.prefix + "user:" + userID
}

func (r *RedisRepository) Create(ctx context.Context, s *Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	exp := time.Until(s.ExpiresAt)
	if exp <= 0 {
		// ensure a minimal TTL so Redis won't store expired sessions
		exp = time.Second
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(s.ID), b, exp)
	pipe.SAdd(ctx, r.userKey(s.UserID), s.ID)
	// tokens share one TTL, so the newest token bounds the index lifetime
	pipe.Expire(ctx, r.userKey(s.UserID), exp)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisRepository) Get(ctx context.Context, id string) (*Session, error) {
	b, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	// If session expired from perspective of stored value, treat as missing
	if time.Now().UTC().After(s.ExpiresAt) {
		_ = r.client.Del(ctx, r.key(id)).Err()
		return nil, nil
	}
	return &s, nil
}

func (r *RedisRepository) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	ids, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return 0, err
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, r.key(id))
	}
	keys = append(keys, r.userKey(userID))
	n, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, err
	}
	// the index key itself is not a token
	if n > 0 {
		n--
	}
	return int(n), nil
}
