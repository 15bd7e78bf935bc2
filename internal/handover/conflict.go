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
	"malo-handover/internal/coordination"
	"malo-handover/internal/malo"
)

// ConflictSet 与请求开始日期冲突的时段下标，保持记录顺序
type ConflictSet []int

// Resolve 时段 End >= requestedStart 即冲突。只看开始日期，请求结束日期不参与判断
func Resolve(segments []malo.Segment, requestedStart malo.Date) ConflictSet {
	set := ConflictSet{}
	for i, s := range segments {
		if s.End.Compare(requestedStart) >= 0 {
			set = append(set, i)
		}
	}
	return set
}

// ResolveText 解析文本日期后计算冲突集，日期非法时返回 ErrInvalidInput
func ResolveText(segments []malo.Segment, requestedStart string) (ConflictSet, error) {
	d, err := malo.ParseDate(requestedStart)
	if err != nil {
		return nil, err
	}
	return Resolve(segments, d), nil
}

// Targets 把冲突时段转为协调目标
func (c ConflictSet) Targets(rec *malo.Record) []coordination.Target {
	targets := make([]coordination.Target, 0, len(c))
	for _, i := range c {
		s := rec.Segments[i]
		targets = append(targets, coordination.Target{
			Counterparty: s.SupplierName,
			Endpoint:     s.SupplierEndpoint,
			ContractRef:  s.ContractRef,
			SegmentIndex: i,
			Start:        s.Start.String(),
			End:          s.End.String(),
		})
	}
	return targets
}
