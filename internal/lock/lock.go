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

// Package lock 每个 MaLo 同一时刻只允许一个协调运行
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"malo-handover/pkg/config"
	"malo-handover/pkg/errors"
)

// DefaultTTL 未指定时的锁有效期
const DefaultTTL = 10 * time.Minute

// ReleaseFunc 释放已持有的锁；重复调用无副作用
type ReleaseFunc func(ctx context.Context) error

// Locker 互斥锁；key 已被占用时返回 errors.ErrLocked
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error)
	Close() error
}

// NewLocker 根据配置创建
func NewLocker(cfg config.LockConfig) (Locker, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryLocker(), nil
	case "redis":
		if cfg.Addr == "" {
			return nil, fmt.Errorf("lock.type=redis 时 addr 必填")
		}
		return NewRedisLocker(cfg.Addr, cfg.Password, cfg.DB), nil
	default:
		return nil, fmt.Errorf("不支持的 lock 类型: %s", cfg.Type)
	}
}

type entry struct {
	token   string
	expires time.Time
}

// MemoryLocker 进程内实现
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]entry
	clock func() time.Time
}

// NewMemoryLocker 创建进程内锁
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]entry), clock: time.Now}
}

func (m *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock()
	if e, ok := m.held[key]; ok && now.Before(e.expires) {
		return nil, errors.Wrapf(errors.ErrLocked, "key %s", key)
	}
	token := uuid.NewString()
	m.held[key] = entry{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			// 过期后被他人重新获取时不误删
			if e, ok := m.held[key]; ok && e.token == token {
				delete(m.held, key)
			}
		})
		return nil
	}, nil
}

// Close 无资源
func (m *MemoryLocker) Close() error { return nil }
