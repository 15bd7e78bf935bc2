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

// Package transfer 通过数据传输子系统向对手方下发终止请求，响应写入对象存储中的运行专属容器
package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"malo-handover/pkg/errors"
)

// 下发请求中的固定取值
const (
	ProtocolIDS     = "ids-multipart"
	DestinationType = "MaLo_lfr"
	RequestChange   = "change"
)

// Destination 响应写入位置
type Destination struct {
	Type      string `json:"type"`
	Container string `json:"container"`
	Name      string `json:"blobname"`
	Request   string `json:"request"`
}

// DispatchRequest 发给传输子系统的请求
type DispatchRequest struct {
	ID               string            `json:"id"`
	ConnectorAddress string            `json:"connectorAddress"`
	ConnectorID      string            `json:"connectorId"`
	Protocol         string            `json:"protocol"`
	AssetID          string            `json:"assetId"`
	ContractID       string            `json:"contractId"`
	Counterparty     string            `json:"counterparty"`
	Destination      Destination       `json:"dataDestination"`
	Properties       map[string]string `json:"properties,omitempty"`
}

// Dispatcher 传输子系统客户端
type Dispatcher interface {
	// Dispatch 发起传输，返回子系统分配的请求 ID；失败为 ErrTransport 种类
	Dispatch(ctx context.Context, req *DispatchRequest) (string, error)
}

// HTTPConfig HTTP 客户端参数
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPDispatcher 通过 REST 调用传输子系统
type HTTPDispatcher struct {
	client *resty.Client
}

// NewHTTPDispatcher 创建 HTTP 下发客户端；不做自动重试，失败直接交给引擎处理
func NewHTTPDispatcher(cfg HTTPConfig) *HTTPDispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("X-Api-Key", cfg.APIKey)
	}
	return &HTTPDispatcher{client: client}
}

// Dispatch 发起传输
func (d *HTTPDispatcher) Dispatch(ctx context.Context, req *DispatchRequest) (string, error) {
	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(req).
		Post("/transferprocess")
	if err != nil {
		return "", errors.Transport(err, "调用传输子系统失败")
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated && resp.StatusCode() != http.StatusAccepted {
		return "", errors.Transport(fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()), "传输子系统拒绝请求")
	}
	var out struct {
		ID string `json:"id"`
	}
	if len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), &out); err != nil {
			return "", errors.Transport(err, "解析传输子系统响应失败")
		}
	}
	if out.ID == "" {
		out.ID = req.ID
	}
	return out.ID, nil
}
