package hostauth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSource reads allow-list entries from a Redis set so several daemons
// can share one list. Inline entries are appended to the set's members.
type RedisSource struct {
	client *redis.Client
	key    string
	inline []string
}

var _ Source = (*RedisSource)(nil)

func NewRedisSource(addr, password string, db int, key string, inline []string) (*RedisSource, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisSource{client: rdb, key: key, inline: inline}, nil
}

// WithInline returns a source reading the same set with inline replacing the
// inline entries. It shares r's connection; close only r.
func (r *RedisSource) WithInline(inline []string) *RedisSource {
	c := *r
	c.inline = inline
	return &c
}

func (r *RedisSource) Load(ctx context.Context) (*AllowList, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	members, err := r.client.SMembers(ctx, r.key).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis smembers %s: %w", r.key, err)
	}
	return Merge(Parse(strings.Join(members, "\n")), Parse(strings.Join(r.inline, "\n"))), nil
}

func (r *RedisSource) Name() string { return "redis" }

func (r *RedisSource) Close() error { return r.client.Close() }
