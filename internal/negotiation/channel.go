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

package negotiation

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"malo-handover/internal/coordination"
	"malo-handover/internal/supplier"
	"malo-handover/pkg/errors"
	"malo-handover/pkg/log"
)

// DefaultAssetType 接入目录中的资产类型
const DefaultAssetType = "MaLo_lfr"

// Response 签约成功后的票据响应
type Response struct {
	ContractRef string `json:"contract_ref"`
}

// API 协商子系统能力，便于替换
type API interface {
	LookupCatalog(ctx context.Context, q CatalogQuery) ([]Offer, error)
	Negotiate(ctx context.Context, req NegotiationRequest) (string, error)
	FindNegotiation(ctx context.Context, id string) (*Negotiation, error)
}

// Channel 接入流程的关联通道：下发 = 目录查询 + 发起协商；轮询 = 查询协商状态
type Channel struct {
	api         API
	assetType   string
	connectorID string
	pollTimeout time.Duration
	logger      *log.Logger

	mu           sync.Mutex
	negotiations map[string]string // runID/key -> negotiationID
}

// ChannelOptions 通道参数
type ChannelOptions struct {
	AssetType   string
	ConnectorID string
	PollTimeout time.Duration
	Logger      *log.Logger
}

// NewChannel 创建协商通道
func NewChannel(api API, opts ChannelOptions) *Channel {
	if opts.AssetType == "" {
		opts.AssetType = DefaultAssetType
	}
	if opts.ConnectorID == "" {
		opts.ConnectorID = "consumer"
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Channel{
		api:          api,
		assetType:    opts.AssetType,
		connectorID:  opts.ConnectorID,
		pollTimeout:  opts.PollTimeout,
		logger:       opts.Logger,
		negotiations: make(map[string]string),
	}
}

func negotiationKey(runID, key string) string {
	return runID + "/" + key
}

// Issue 目录中必须恰好有一条报价，否则视为下发失败
func (c *Channel) Issue(ctx context.Context, run coordination.RunRef, t *coordination.Ticket, payload []byte) error {
	nk := negotiationKey(run.ID, t.CorrelationKey)
	c.mu.Lock()
	_, done := c.negotiations[nk]
	c.mu.Unlock()
	if done {
		return nil
	}

	asset := supplier.AssetName(run.MaloID, t.Target.Counterparty)
	offers, err := c.api.LookupCatalog(ctx, CatalogQuery{
		ProviderURL: t.Target.Endpoint,
		Filter:      map[string]string{"type": c.assetType, "name": asset},
	})
	if err != nil {
		return err
	}
	if len(offers) != 1 {
		return errors.Transport(errors.Invalidf("资产 %s 的报价数为 %d", asset, len(offers)), "目录查询结果不唯一")
	}
	id, err := c.api.Negotiate(ctx, NegotiationRequest{
		ConnectorAddress: t.Target.Endpoint,
		ConnectorID:      c.connectorID,
		Protocol:         "ids-multipart",
		OfferID:          offers[0].ID,
		AssetID:          offers[0].AssetID,
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.negotiations[nk] = id
	c.mu.Unlock()
	c.logger.Debug("已发起协商", "run_id", run.ID, "key", t.CorrelationKey, "negotiation_id", id)
	return nil
}

// Poll 单次查询带超时；查询失败或尚未签约都按未到达处理
func (c *Channel) Poll(ctx context.Context, run coordination.RunRef, key string) ([]byte, bool) {
	c.mu.Lock()
	id, ok := c.negotiations[negotiationKey(run.ID, key)]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	pctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()
	n, err := c.api.FindNegotiation(pctx, id)
	if err != nil {
		c.logger.Debug("查询协商失败", "negotiation_id", id, "error", err)
		return nil, false
	}
	if !n.Agreed() {
		return nil, false
	}
	data, err := json.Marshal(Response{ContractRef: n.ContractAgreementID})
	if err != nil {
		return nil, false
	}
	return data, true
}

// Release 清理本次运行的协商记录
func (c *Channel) Release(ctx context.Context, run coordination.RunRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := run.ID + "/"
	for k := range c.negotiations {
		if strings.HasPrefix(k, prefix) {
			delete(c.negotiations, k)
		}
	}
	return nil
}
