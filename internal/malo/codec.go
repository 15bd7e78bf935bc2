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
	"encoding/json"

	"malo-handover/pkg/errors"
)

// 文档字段名
const (
	fieldID       = "maLo"
	fieldCurrent  = "lieferant"
	fieldSegments = "belieferungen"
)

type wireSegment struct {
	Start    Date     `json:"von"`
	End      Date     `json:"bis"`
	Supplier Supplier `json:"lieferant"`
}

// MarshalJSON 输出与源存储文档兼容的格式，未知属性原样写回
func (r Record) MarshalJSON() ([]byte, error) {
	doc := make(map[string]interface{}, len(r.Attributes)+3)
	for k, v := range r.Attributes {
		doc[k] = v
	}
	doc[fieldID] = r.ID
	if r.Current != nil {
		doc[fieldCurrent] = r.Current
	}
	segs := make([]wireSegment, len(r.Segments))
	for i, s := range r.Segments {
		segs[i] = wireSegment{Start: s.Start, End: s.End, Supplier: s.Supplier()}
	}
	doc[fieldSegments] = segs
	return json.Marshal(doc)
}

// UnmarshalJSON 解析文档；日期非法时返回 ErrInvalidInput
func (r *Record) UnmarshalJSON(b []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(b, &doc); err != nil {
		return errors.Invalidf("记录不是合法 JSON: %v", err)
	}
	out := Record{}
	if raw, ok := doc[fieldID]; ok {
		if err := json.Unmarshal(raw, &out.ID); err != nil {
			return errors.Invalidf("maLo 字段必须为字符串")
		}
		delete(doc, fieldID)
	}
	if raw, ok := doc[fieldCurrent]; ok {
		if string(raw) != "null" {
			var cur Supplier
			if err := json.Unmarshal(raw, &cur); err != nil {
				return errors.Invalidf("lieferant 字段非法: %v", err)
			}
			out.Current = &cur
		}
		delete(doc, fieldCurrent)
	}
	if raw, ok := doc[fieldSegments]; ok {
		var segs []wireSegment
		if err := json.Unmarshal(raw, &segs); err != nil {
			return errors.Invalidf("belieferungen 字段非法: %v", err)
		}
		out.Segments = make([]Segment, len(segs))
		for i, s := range segs {
			out.Segments[i] = Segment{
				Start:            s.Start,
				End:              s.End,
				SupplierName:     s.Supplier.Name,
				SupplierEndpoint: s.Supplier.Endpoint,
				ContractRef:      s.Supplier.ContractRef,
			}
		}
		delete(doc, fieldSegments)
	}
	if len(doc) > 0 {
		out.Attributes = doc
	}
	*r = out
	return nil
}

// Decode 解析已存储的记录，仅要求 ID 非空；已被提前终止的时段（End 早于 Start）允许存在
func Decode(b []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	if r.ID == "" {
		return nil, errors.Invalidf("计量点 ID 为空")
	}
	return &r, nil
}
