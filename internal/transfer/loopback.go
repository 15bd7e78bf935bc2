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

package transfer

import (
	"context"

	"malo-handover/internal/malo"
	"malo-handover/internal/supplier"
	"malo-handover/pkg/errors"
	"malo-handover/pkg/log"
)

// TerminationHandler 供应商侧处理器
type TerminationHandler interface {
	HandleTermination(ctx context.Context, req supplier.TerminationRequest) (supplier.Decision, error)
}

// LoopbackDispatcher 进程内直接交给供应商应答器处理，用于本地运行与测试
type LoopbackDispatcher struct {
	handler TerminationHandler
	logger  *log.Logger
}

// NewLoopbackDispatcher 创建进程内下发
func NewLoopbackDispatcher(h TerminationHandler, logger *log.Logger) *LoopbackDispatcher {
	if logger == nil {
		logger = log.Nop()
	}
	return &LoopbackDispatcher{handler: h, logger: logger}
}

// Dispatch 被拒绝的请求不是传输错误：对手方只是不写响应
func (d *LoopbackDispatcher) Dispatch(ctx context.Context, req *DispatchRequest) (string, error) {
	tr, err := TerminationRequestOf(req)
	if err != nil {
		return "", err
	}
	decision, err := d.handler.HandleTermination(ctx, tr)
	if err != nil {
		return "", errors.Transport(err, "供应商处理失败")
	}
	if !decision.Accepted {
		d.logger.Info("供应商拒绝终止请求", "supplier", tr.Supplier, "reason", decision.Reason)
	}
	return req.ID, nil
}

// TerminationRequestOf 从下发请求还原终止请求
func TerminationRequestOf(req *DispatchRequest) (supplier.TerminationRequest, error) {
	end, err := malo.ParseDate(req.Properties["end_date"])
	if err != nil {
		return supplier.TerminationRequest{}, err
	}
	var start malo.Date
	if v := req.Properties["requested_start"]; v != "" {
		if start, err = malo.ParseDate(v); err != nil {
			return supplier.TerminationRequest{}, err
		}
	}
	return supplier.TerminationRequest{
		MaloID:            req.Properties["malo_id"],
		Supplier:          req.Counterparty,
		EndDate:           end,
		RequestedStart:    start,
		ResponseContainer: req.Destination.Container,
		ResponseName:      req.Destination.Name,
	}, nil
}
