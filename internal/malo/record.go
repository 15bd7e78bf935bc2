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

// Package malo 计量点（MaLo）记录模型：供应时段、JSON 编解码与持久化
package malo

import (
	"encoding/json"

	"malo-handover/pkg/errors"
)

// Supplier 供应商：名称、连接端点与已签合同
type Supplier struct {
	Name        string `json:"name"`
	Endpoint    string `json:"connector,omitempty"`
	ContractRef string `json:"dataContract,omitempty"`
}

// Segment 一个供应时段，End 为开区间
type Segment struct {
	Start            Date
	End              Date
	SupplierName     string
	SupplierEndpoint string
	ContractRef      string
}

// Void 时段已在开始前被终止
func (s Segment) Void() bool {
	return s.End.Before(s.Start)
}

// Supplier 返回该时段的供应商视图
func (s Segment) Supplier() Supplier {
	return Supplier{Name: s.SupplierName, Endpoint: s.SupplierEndpoint, ContractRef: s.ContractRef}
}

// Record 计量点记录。合并操作总是返回新记录，不修改入参
type Record struct {
	ID       string
	Current  *Supplier // 当前供应商（可选）
	Segments []Segment
	// Attributes 其余身份属性原样保留
	Attributes map[string]json.RawMessage
}

// HandoverRequest 供应商变更请求
type HandoverRequest struct {
	RequestedStart Date
	RequestedEnd   Date
	Record         *Record
}

// Validate 校验请求区间
func (r HandoverRequest) Validate() error {
	if r.Record == nil {
		return errors.Invalidf("缺少计量点记录")
	}
	if r.RequestedStart.IsZero() || r.RequestedEnd.IsZero() {
		return errors.Invalidf("请求区间不完整")
	}
	if r.RequestedEnd.Before(r.RequestedStart) {
		return errors.Invalidf("请求结束 %s 早于开始 %s", r.RequestedEnd, r.RequestedStart)
	}
	return r.Record.Validate()
}

// Validate 校验新登记的记录：ID 非空，每个时段 Start <= End 且有供应商名
func (r *Record) Validate() error {
	if r.ID == "" {
		return errors.Invalidf("计量点 ID 为空")
	}
	for i, s := range r.Segments {
		if s.Start.IsZero() || s.End.IsZero() {
			return errors.Invalidf("时段 %d 日期不完整", i)
		}
		if s.End.Before(s.Start) {
			return errors.Invalidf("时段 %d 结束 %s 早于开始 %s", i, s.End, s.Start)
		}
		if s.SupplierName == "" {
			return errors.Invalidf("时段 %d 缺少供应商", i)
		}
	}
	return nil
}

// Clone 深拷贝
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := &Record{ID: r.ID}
	if r.Current != nil {
		cur := *r.Current
		out.Current = &cur
	}
	if r.Segments != nil {
		out.Segments = make([]Segment, len(r.Segments))
		copy(out.Segments, r.Segments)
	}
	if r.Attributes != nil {
		out.Attributes = make(map[string]json.RawMessage, len(r.Attributes))
		for k, v := range r.Attributes {
			cp := make(json.RawMessage, len(v))
			copy(cp, v)
			out.Attributes[k] = cp
		}
	}
	return out
}

// SupplierNames 按时段顺序列出供应商名称（去重）
func (r *Record) SupplierNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, s := range r.Segments {
		if !seen[s.SupplierName] {
			seen[s.SupplierName] = true
			names = append(names, s.SupplierName)
		}
	}
	return names
}
