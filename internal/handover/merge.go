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

package handover

import (
	"encoding/json"
	"fmt"

	"malo-handover/internal/coordination"
	"malo-handover/internal/malo"
	"malo-handover/internal/negotiation"
	"malo-handover/internal/supplier"
	"malo-handover/pkg/errors"
)

// MergeError 某个对手方的响应无法写入记录，归类为 TransportError
type MergeError struct {
	Counterparty   string
	CorrelationKey string
	Err            error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("合并票据 %s (%s): %v", e.CorrelationKey, e.Counterparty, e.Err)
}

func (e *MergeError) Unwrap() []error { return []error{errors.ErrTransport, e.Err} }

// ApplyFunc 把一个响应写入对应时段
type ApplyFunc func(seg *malo.Segment, response []byte) error

// Merge 仅在运行 Completed 时合并：返回新记录，原记录不变。
// 未完成时返回原记录与 HandoverIncomplete（携带未解决的对手方名称）。
// 任一响应无法解析时同样返回原记录与 *MergeError，不做部分写入。
func Merge(rec *malo.Record, res *coordination.Result, apply ApplyFunc) (*malo.Record, error) {
	if res.State != coordination.RunCompleted {
		return rec, errors.Incomplete(res.Unresolved())
	}
	out := rec.Clone()
	for _, t := range res.Tickets {
		i := t.Target.SegmentIndex
		if i < 0 || i >= len(out.Segments) {
			return rec, &MergeError{Counterparty: t.Target.Counterparty, CorrelationKey: t.CorrelationKey,
				Err: fmt.Errorf("时段 %d 不存在", i)}
		}
		if err := apply(&out.Segments[i], t.Response); err != nil {
			return rec, &MergeError{Counterparty: t.Target.Counterparty, CorrelationKey: t.CorrelationKey, Err: err}
		}
	}
	return out, nil
}

// MergeEndDates 用响应中的 end_date 覆盖时段结束日期
func MergeEndDates(rec *malo.Record, res *coordination.Result) (*malo.Record, error) {
	return Merge(rec, res, func(seg *malo.Segment, response []byte) error {
		var r supplier.Response
		if err := json.Unmarshal(response, &r); err != nil {
			return fmt.Errorf("终止响应非法: %v", err)
		}
		if r.EndDate.IsZero() {
			return errors.New("终止响应缺少 end_date")
		}
		seg.End = r.EndDate
		return nil
	})
}

// MergeContractRefs 用协商得到的合同 ID 写入时段
func MergeContractRefs(rec *malo.Record, res *coordination.Result) (*malo.Record, error) {
	return Merge(rec, res, func(seg *malo.Segment, response []byte) error {
		var r negotiation.Response
		if err := json.Unmarshal(response, &r); err != nil {
			return fmt.Errorf("协商响应非法: %v", err)
		}
		if r.ContractRef == "" {
			return errors.New("协商响应缺少 contract_ref")
		}
		seg.ContractRef = r.ContractRef
		return nil
	})
}
