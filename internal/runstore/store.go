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

// Package runstore 协调运行记录：供查询、超时巡检与 API/Worker 共享
package runstore

import (
	"context"
	"fmt"
	"time"

	"malo-handover/internal/coordination"
	"malo-handover/pkg/config"
)

// Store 运行记录存储；实现 coordination.RunTracker
type Store interface {
	// Create 写入 InFlight 运行
	Create(ctx context.Context, snap *coordination.Snapshot) error
	// Finish 仅当运行仍为 InFlight 时写入终态；返回 false 表示已被其他方结束（如超时巡检）
	Finish(ctx context.Context, snap *coordination.Snapshot) (bool, error)
	// Get 读取运行，不存在时返回 ErrNotFound
	Get(ctx context.Context, id string) (*coordination.Snapshot, error)
	// ListByMalo 某计量点最近的运行，按开始时间倒序
	ListByMalo(ctx context.Context, maloID string, limit int) ([]*coordination.Snapshot, error)
	ListInFlight(ctx context.Context, limit int) ([]*coordination.Snapshot, error)
	Expire(ctx context.Context, id string, reason string, at time.Time) (bool, error)
	Close()
}

var _ coordination.RunTracker = Store(nil)

// NewStore 根据配置创建存储；cfg.DSN 需已解析 secret:// 引用
func NewStore(ctx context.Context, cfg config.RunStoreConfig) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("runstore.type=postgres 时 dsn 必填")
		}
		s, err := NewPgStore(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("不支持的 runstore 类型: %s", cfg.Type)
	}
}
