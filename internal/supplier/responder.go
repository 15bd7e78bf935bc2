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

// Package supplier 供应商侧：根据合同周期决定是否接受提前终止，并把商定的结束日期写回请求方指定的位置
package supplier

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"malo-handover/internal/malo"
	"malo-handover/internal/storage/object"
	"malo-handover/pkg/errors"
	"malo-handover/pkg/log"
)

// 合同周期
const (
	CycleMonthly = "m"
	CycleYearly  = "y"
)

// DefaultContainer 合同簿所在容器
const DefaultContainer = "supplier-contracts"

// Contract 供应合同
type Contract struct {
	MaloID      string    `json:"malo_id"`
	Supplier    string    `json:"supplier"`
	ContractEnd malo.Date `json:"contract_end"`
	CyclePeriod string    `json:"cycle_period"`
}

// AssetName 合同在合同簿中的名称，同时作为目录中的资产名
func AssetName(maloID, supplier string) string {
	return fmt.Sprintf("MaLo_%s_%s", maloID, supplier)
}

// TerminationRequest 请求方发来的提前终止请求
type TerminationRequest struct {
	MaloID            string    `json:"malo_id"`
	Supplier          string    `json:"supplier"`
	EndDate           malo.Date `json:"end_date"`
	RequestedStart    malo.Date `json:"requested_start"`
	ResponseContainer string    `json:"response_container"`
	ResponseName      string    `json:"response_name"`
}

// Response 写回请求方的内容
type Response struct {
	EndDate malo.Date `json:"end_date"`
}

// Decision 处理结果
type Decision struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// Responder 处理终止请求；拒绝时不写任何响应，请求方的票据随截止变为未解决
type Responder struct {
	store     object.Store
	container string
	now       func() time.Time
	logger    *log.Logger
}

// Option Responder 可选项
type Option func(*Responder)

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(r *Responder) { r.now = now }
}

// WithLogger 设置日志
func WithLogger(l *log.Logger) Option {
	return func(r *Responder) { r.logger = l }
}

// NewResponder 创建供应商应答器
func NewResponder(store object.Store, container string, opts ...Option) *Responder {
	if container == "" {
		container = DefaultContainer
	}
	r := &Responder{store: store, container: container, now: time.Now, logger: log.Nop()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// PutContract 登记或覆盖合同
func (r *Responder) PutContract(ctx context.Context, c Contract) error {
	if c.MaloID == "" || c.Supplier == "" {
		return errors.Invalidf("合同缺少计量点或供应商")
	}
	if c.CyclePeriod != CycleMonthly && c.CyclePeriod != CycleYearly {
		return errors.Invalidf("未知合同周期 %q", c.CyclePeriod)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, r.container, AssetName(c.MaloID, c.Supplier), data, true)
}

// SwitchDate 新供应开始日；未携带 requested_start 时取 end_date 的次日
func (r TerminationRequest) SwitchDate() malo.Date {
	if !r.RequestedStart.IsZero() {
		return r.RequestedStart
	}
	return r.EndDate.AddDays(1)
}

// GetContract 读取合同
func (r *Responder) GetContract(ctx context.Context, maloID, supplier string) (*Contract, error) {
	data, err := r.store.Get(ctx, r.container, AssetName(maloID, supplier))
	if err != nil {
		if stderrors.Is(err, object.ErrNotFound) {
			return nil, errors.Wrapf(errors.ErrNotFound, "contract %s", AssetName(maloID, supplier))
		}
		return nil, err
	}
	var c Contract
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// CanTerminate 当前周期末严格早于新供应开始日时才允许终止
func CanTerminate(cyclePeriod string, today, requested malo.Date) bool {
	switch cyclePeriod {
	case CycleMonthly:
		return today.EndOfMonth().Before(requested)
	case CycleYearly:
		return today.EndOfYear().Before(requested)
	}
	return false
}

// HandleTermination 处理终止请求：允许时更新合同结束日期并写回 {"end_date": ...}
func (r *Responder) HandleTermination(ctx context.Context, req TerminationRequest) (Decision, error) {
	if req.MaloID == "" || req.Supplier == "" || req.EndDate.IsZero() {
		return Decision{}, errors.Invalidf("终止请求不完整")
	}
	if req.ResponseContainer == "" || req.ResponseName == "" {
		return Decision{}, errors.Invalidf("终止请求缺少响应位置")
	}
	logger := r.logger.With("malo_id", req.MaloID, "supplier", req.Supplier, "end_date", req.EndDate.String())

	c, err := r.GetContract(ctx, req.MaloID, req.Supplier)
	if err != nil {
		if stderrors.Is(err, errors.ErrNotFound) {
			logger.Info("无对应合同，拒绝终止")
			return Decision{Reason: "no contract"}, nil
		}
		return Decision{}, err
	}
	today := malo.DateOf(r.now())
	if !CanTerminate(c.CyclePeriod, today, req.SwitchDate()) {
		logger.Info("合同周期内不可终止", "cycle", c.CyclePeriod, "contract_end", c.ContractEnd.String())
		return Decision{Reason: "termination not possible within current cycle"}, nil
	}

	c.ContractEnd = req.EndDate
	if err := r.PutContract(ctx, *c); err != nil {
		return Decision{}, err
	}
	data, err := json.Marshal(Response{EndDate: c.ContractEnd})
	if err != nil {
		return Decision{}, err
	}
	if err := r.store.Put(ctx, req.ResponseContainer, req.ResponseName, data, true); err != nil {
		return Decision{}, errors.Wrap(err, "写回终止响应失败")
	}
	logger.Info("已接受提前终止")
	return Decision{Accepted: true}, nil
}
