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
	"context"
	"time"

	"malo-handover/internal/coordination"
	"malo-handover/internal/malo"
	"malo-handover/pkg/errors"
)

// OnboardingTargets 候选供应商尚未签约的时段；matched 表示记录中存在该供应商的时段
func OnboardingTargets(rec *malo.Record, candidate malo.Supplier) (targets []coordination.Target, matched bool) {
	for i, seg := range rec.Segments {
		if seg.SupplierName != candidate.Name {
			continue
		}
		matched = true
		if seg.ContractRef != "" {
			continue
		}
		endpoint := seg.SupplierEndpoint
		if endpoint == "" {
			endpoint = candidate.Endpoint
		}
		targets = append(targets, coordination.Target{
			Counterparty: seg.SupplierName,
			Endpoint:     endpoint,
			SegmentIndex: i,
			Start:        seg.Start.String(),
			End:          seg.End.String(),
		})
	}
	return targets, matched
}

// CoordinateOnboarding 向候选供应商的目录协商合同，全部签约后把合同 ID 写入对应时段，
// 并在当前供应商为空或即为候选时更新当前供应商
func (s *Service) CoordinateOnboarding(ctx context.Context, rec *malo.Record, candidate malo.Supplier, deadline time.Time) (*malo.Record, Outcome, error) {
	if rec == nil || rec.ID == "" {
		return rec, Outcome{}, errors.Invalidf("缺少计量点记录")
	}
	if candidate.Name == "" {
		return rec, Outcome{}, errors.Invalidf("候选供应商名称为空")
	}
	if s.onboarding == nil {
		return rec, Outcome{}, errors.Invalidf("未配置合同协商，接入流程不可用")
	}
	targets, matched := OnboardingTargets(rec, candidate)
	if !matched {
		return rec, Outcome{}, errors.Invalidf("记录 %s 中没有供应商 %s 的时段", rec.ID, candidate.Name)
	}
	if len(targets) == 0 {
		s.logger.Info("候选供应商的时段均已签约", "malo_id", rec.ID, "supplier", candidate.Name)
		return rec, Outcome{Kind: OutcomeCompleted}, nil
	}

	res, err := s.execute(ctx, KindOnboarding, s.onboarding, s.onboardingCh, rec.ID, targets, nil, deadline)
	if err != nil {
		return rec, Outcome{}, err
	}
	merged, mergeErr := MergeContractRefs(rec, res)
	if mergeErr == nil {
		promoteCurrent(merged, candidate, targets[0].SegmentIndex)
	}
	return s.conclude(ctx, rec, merged, mergeErr, res)
}

func promoteCurrent(rec *malo.Record, candidate malo.Supplier, segIndex int) {
	if rec.Current != nil && rec.Current.Name != candidate.Name {
		return
	}
	cur := rec.Segments[segIndex].Supplier()
	if cur.Endpoint == "" {
		cur.Endpoint = candidate.Endpoint
	}
	rec.Current = &cur
}
