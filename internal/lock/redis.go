// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"malo-handover/pkg/errors"
)

// releaseScript 只删除自己持有的锁
// KEYS[1] = 锁 key
// ARGV[1] = 持有者 token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker 基于 SET NX PX 的分布式锁，API 与 Worker 多实例共享
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker 创建 Redis 锁
func NewRedisLocker(addr string, password string, db int) *RedisLocker {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisLocker{client: rdb}
}

func lockKey(key string) string {
	return fmt.Sprintf("malo:lock:%s", key)
}

func (r *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	k := lockKey(key)
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock error: %w", err)
	}
	if !ok {
		return nil, errors.Wrapf(errors.ErrLocked, "key %s", key)
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, r.client, []string{k}, token).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("redis unlock error: %w", err)
		}
		return nil
	}, nil
}

// Close 关闭客户端
func (r *RedisLocker) Close() error {
	return r.client.Close()
}
