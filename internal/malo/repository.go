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

package malo

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"malo-handover/internal/storage/object"
	"malo-handover/pkg/errors"
)

// Repository 记录持久化，一个记录一个对象：{container}/{id}.json
type Repository struct {
	store     object.Store
	container string
}

// NewRepository 创建记录仓库
func NewRepository(store object.Store, container string) *Repository {
	if container == "" {
		container = "src-container"
	}
	return &Repository{store: store, container: container}
}

func objectName(id string) string {
	return id + ".json"
}

// Load 读取记录，不存在时返回 ErrNotFound
func (r *Repository) Load(ctx context.Context, id string) (*Record, error) {
	data, err := r.store.Get(ctx, r.container, objectName(id))
	if err != nil {
		if stderrors.Is(err, object.ErrNotFound) {
			return nil, errors.Wrapf(errors.ErrNotFound, "malo %s", id)
		}
		return nil, err
	}
	return Decode(data)
}

// Save 校验后覆盖写入
func (r *Repository) Save(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, r.container, objectName(rec.ID), data, true)
}

// Replace 合并结果写回：合并后的时段可能出现 End 早于 Start，因此只校验 ID
func (r *Repository) Replace(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return errors.Invalidf("计量点 ID 为空")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, r.container, objectName(rec.ID), data, true)
}
