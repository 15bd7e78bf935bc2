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
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"

	"malo-handover/internal/coordination"
	"malo-handover/internal/storage/object"
	"malo-handover/internal/supplier"
	"malo-handover/pkg/errors"
	"malo-handover/pkg/log"
)

// ContainerPrefix 运行专属响应容器的前缀
const ContainerPrefix = "handover-"

// ResponseContainer 运行的响应容器：每次运行独立，重试不会读到旧响应
func ResponseContainer(runID string) string {
	return ContainerPrefix + runID
}

// requestNamespace 用于从关联键派生稳定的请求 ID
var requestNamespace = uuid.MustParse("6f1c1f9e-3a53-4c5e-9a43-5c3e2d7b9f10")

// ObjectChannel 下发走传输子系统，响应由对手方写入对象存储，轮询即检查对象是否存在
type ObjectChannel struct {
	dispatcher  Dispatcher
	store       object.Store
	connectorID string
	logger      *log.Logger

	mu     sync.Mutex
	issued map[string]string // runID/key -> requestID
}

// NewObjectChannel 创建通道
func NewObjectChannel(d Dispatcher, store object.Store, connectorID string, logger *log.Logger) *ObjectChannel {
	if logger == nil {
		logger = log.Nop()
	}
	if connectorID == "" {
		connectorID = "consumer"
	}
	return &ObjectChannel{
		dispatcher:  d,
		store:       store,
		connectorID: connectorID,
		logger:      logger,
		issued:      make(map[string]string),
	}
}

func issuedKey(runID, key string) string {
	return runID + "/" + key
}

// Issue 下发终止请求；payload 为 JSON 对象，字段作为请求属性传给对手方。同一运行内重复下发不会再次调用子系统
func (c *ObjectChannel) Issue(ctx context.Context, run coordination.RunRef, t *coordination.Ticket, payload []byte) error {
	ik := issuedKey(run.ID, t.CorrelationKey)
	c.mu.Lock()
	if _, ok := c.issued[ik]; ok {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	props := map[string]string{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &props); err != nil {
			return errors.Invalidf("下发负载必须是字符串字段的 JSON 对象: %v", err)
		}
	}
	props["malo_id"] = run.MaloID
	props["supplier"] = t.Target.Counterparty

	req := &DispatchRequest{
		ID:               uuid.NewSHA1(requestNamespace, []byte(ik)).String(),
		ConnectorAddress: t.Target.Endpoint,
		ConnectorID:      c.connectorID,
		Protocol:         ProtocolIDS,
		AssetID:          supplier.AssetName(run.MaloID, t.Target.Counterparty),
		ContractID:       t.Target.ContractRef,
		Counterparty:     t.Target.Counterparty,
		Destination: Destination{
			Type:      DestinationType,
			Container: ResponseContainer(run.ID),
			Name:      t.CorrelationKey,
			Request:   RequestChange,
		},
		Properties: props,
	}
	id, err := c.dispatcher.Dispatch(ctx, req)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.issued[ik] = id
	c.mu.Unlock()
	c.logger.Debug("已下发终止请求", "run_id", run.ID, "key", t.CorrelationKey, "request_id", id)
	return nil
}

// Poll 响应对象存在即视为到达；任何存储错误都按未到达处理
func (c *ObjectChannel) Poll(ctx context.Context, run coordination.RunRef, key string) ([]byte, bool) {
	container := ResponseContainer(run.ID)
	ok, err := c.store.Exists(ctx, container, key)
	if err != nil || !ok {
		if err != nil {
			c.logger.Debug("查询响应失败", "key", key, "error", err)
		}
		return nil, false
	}
	data, err := c.store.Get(ctx, container, key)
	if err != nil {
		c.logger.Debug("读取响应失败", "key", key, "error", err)
		return nil, false
	}
	return data, true
}

// Release 删除运行容器中的响应并清理下发记录
func (c *ObjectChannel) Release(ctx context.Context, run coordination.RunRef) error {
	c.mu.Lock()
	prefix := run.ID + "/"
	for k := range c.issued {
		if strings.HasPrefix(k, prefix) {
			delete(c.issued, k)
		}
	}
	c.mu.Unlock()

	container := ResponseContainer(run.ID)
	objs, err := c.store.List(ctx, container)
	if err != nil {
		return err
	}
	for _, o := range objs {
		if err := c.store.Delete(ctx, container, o.Name); err != nil {
			return err
		}
	}
	return nil
}
