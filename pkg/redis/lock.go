package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker takes short-lived exclusive locks with SET NX PX.
type Locker struct {
	client redis.Scripter
	set    func(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd
}

// NewLocker creates a Locker over a go-redis client.
func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client, set: client.SetNX}
}

// TryLock acquires key for ttl. It returns a release func, or ok=false when another holder has it.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error) {
	token := uuid.NewString()
	ok, err = l.set(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		_ = releaseScript.Run(context.Background(), l.client, []string{key}, token).Err()
	}, true, nil
}
