package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BioHazard786/Camsync/internal/signaling"
)

const roomKeyPrefix = "camsync:room:"

// releaseScript deletes the role field only if memberID still owns it.
var releaseScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], ARGV[1]) == ARGV[2] then
	return redis.call("HDEL", KEYS[1], ARGV[1])
end
return 0
`)

// RedisRegistry stores role claims in a Redis hash per room so that relays
// behind a load balancer agree on who holds which role. Rooms expire after
// ttl without activity.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisRegistry connects to Redis and verifies the connection.
func NewRedisRegistry(ctx context.Context, opts RedisOptions) (*RedisRegistry, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisRegistry{client: client, ttl: opts.TTL}, nil
}

func roomKey(roomID string) string {
	return roomKeyPrefix + roomID
}

func (r *RedisRegistry) Claim(ctx context.Context, roomID string, role signaling.Role, memberID string) (bool, error) {
	key := roomKey(roomID)

	ok, err := r.client.HSetNX(ctx, key, string(role), memberID).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s in %s: %w", role, roomID, err)
	}
	if !ok {
		holder, err := r.client.HGet(ctx, key, string(role)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return false, fmt.Errorf("read %s in %s: %w", role, roomID, err)
		}
		if holder != memberID {
			return false, nil
		}
	}

	if r.ttl > 0 {
		if err := r.client.Expire(ctx, key, r.ttl).Err(); err != nil {
			return true, fmt.Errorf("set ttl on %s: %w", roomID, err)
		}
	}
	return true, nil
}

func (r *RedisRegistry) Release(ctx context.Context, roomID string, role signaling.Role, memberID string) error {
	err := releaseScript.Run(ctx, r.client, []string{roomKey(roomID)}, string(role), memberID).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release %s in %s: %w", role, roomID, err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
