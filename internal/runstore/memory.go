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

package runstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"malo-handover/internal/coordination"
	"malo-handover/pkg/errors"
)

// MemoryStore 内存实现，单进程使用
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*coordination.Snapshot
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*coordination.Snapshot)}
}

func clone(s *coordination.Snapshot) *coordination.Snapshot {
	cp := *s
	if s.Unresolved != nil {
		cp.Unresolved = append([]string(nil), s.Unresolved...)
	}
	return &cp
}

func (m *MemoryStore) Create(ctx context.Context, snap *coordination.Snapshot) error {
	if snap == nil || snap.ID == "" {
		return errors.Invalidf("运行 ID 为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[snap.ID]; ok {
		return errors.Invalidf("运行 %s 已存在", snap.ID)
	}
	cp := clone(snap)
	cp.State = coordination.RunInFlight
	m.runs[snap.ID] = cp
	return nil
}

func (m *MemoryStore) Finish(ctx context.Context, snap *coordination.Snapshot) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.runs[snap.ID]
	if !ok {
		return false, errors.Wrapf(errors.ErrNotFound, "run %s", snap.ID)
	}
	if cur.State != coordination.RunInFlight {
		return false, nil
	}
	m.runs[snap.ID] = clone(snap)
	return true, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*coordination.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.runs[id]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "run %s", id)
	}
	return clone(s), nil
}

func (m *MemoryStore) ListByMalo(ctx context.Context, maloID string, limit int) ([]*coordination.Snapshot, error) {
	m.mu.RLock()
	var out []*coordination.Snapshot
	for _, s := range m.runs {
		if s.MaloID == maloID {
			out = append(out, clone(s))
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListInFlight(ctx context.Context, limit int) ([]*coordination.Snapshot, error) {
	m.mu.RLock()
	var out []*coordination.Snapshot
	for _, s := range m.runs {
		if s.State == coordination.RunInFlight {
			out = append(out, clone(s))
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Expire(ctx context.Context, id string, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.runs[id]
	if !ok || s.State != coordination.RunInFlight {
		return false, nil
	}
	s.State = coordination.RunTimedOut
	s.Reason = reason
	s.FinishedAt = at
	return true, nil
}

// Close 无资源需要释放
func (m *MemoryStore) Close() {}
