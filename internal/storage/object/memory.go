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

package object

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore 内存对象存储实现
type MemoryStore struct {
	containers map[string]map[string]*object
	mu         sync.RWMutex
}

type object struct {
	data       []byte
	modifiedAt time.Time
}

// NewMemoryStore 创建新的内存对象存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		containers: make(map[string]map[string]*object),
	}
}

// Put 写入对象，数据会被复制
func (s *MemoryStore) Put(ctx context.Context, container, name string, data []byte, overwrite bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.containers[container]
	if !ok {
		c = make(map[string]*object)
		s.containers[container] = c
	}
	if _, exists := c[name]; exists && !overwrite {
		return fmt.Errorf("%s/%s: %w", container, name, ErrExists)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c[name] = &object{data: buf, modifiedAt: time.Now()}
	return nil
}

// Get 读取对象
func (s *MemoryStore) Get(ctx context.Context, container, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.containers[container][name]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", container, name, ErrNotFound)
	}
	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)
	return buf, nil
}

// Exists 检查对象是否存在
func (s *MemoryStore) Exists(ctx context.Context, container, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.containers[container][name]
	return ok, nil
}

// List 列出容器内对象
func (s *MemoryStore) List(ctx context.Context, container string) ([]*ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*ObjectInfo, 0, len(s.containers[container]))
	for name, obj := range s.containers[container] {
		results = append(results, &ObjectInfo{
			Container:  container,
			Name:       name,
			Size:       int64(len(obj.data)),
			ModifiedAt: obj.modifiedAt,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results, nil
}

// Delete 删除对象
func (s *MemoryStore) Delete(ctx context.Context, container, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.containers[container], name)
	return nil
}

// Close 关闭存储
func (s *MemoryStore) Close() error {
	return nil
}
