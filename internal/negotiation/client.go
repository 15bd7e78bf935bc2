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

// Package negotiation 接入流程：在候选供应商目录中查找资产报价，发起合同协商并轮询签约结果
package negotiation

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"malo-handover/pkg/errors"
)

// 协商终态
const (
	StateFinalized  = "FINALIZED"
	StateConfirmed  = "CONFIRMED"
	StateTerminated = "TERMINATED"
	StateDeclined   = "DECLINED"
)

// Offer 目录中的一条报价
type Offer struct {
	ID      string `json:"id"`
	AssetID string `json:"assetId"`
}

// CatalogQuery 目录查询条件
type CatalogQuery struct {
	ProviderURL string            `json:"providerUrl"`
	Filter      map[string]string `json:"filter"`
}

// NegotiationRequest 发起协商
type NegotiationRequest struct {
	ConnectorAddress string `json:"connectorAddress"`
	ConnectorID      string `json:"connectorId"`
	Protocol         string `json:"protocol"`
	OfferID          string `json:"offerId"`
	AssetID          string `json:"assetId"`
}

// Negotiation 协商状态
type Negotiation struct {
	ID                  string `json:"id"`
	State               string `json:"state"`
	ContractAgreementID string `json:"contractAgreementId"`
}

// Agreed 已签约且有合同 ID
func (n *Negotiation) Agreed() bool {
	return (n.State == StateFinalized || n.State == StateConfirmed) && n.ContractAgreementID != ""
}

// Client 协商子系统 REST 客户端
type Client struct {
	client *resty.Client
}

// NewClient 创建客户端
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		c.SetHeader("X-Api-Key", apiKey)
	}
	return &Client{client: c}
}

// LookupCatalog 查询目录
func (c *Client) LookupCatalog(ctx context.Context, q CatalogQuery) ([]Offer, error) {
	var out struct {
		Offers []Offer `json:"offers"`
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(q).
		SetResult(&out).
		Post("/catalog/request")
	if err != nil {
		return nil, errors.Transport(err, "查询目录失败")
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, errors.Transport(fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()), "目录服务返回错误")
	}
	return out.Offers, nil
}

// Negotiate 发起协商，返回协商 ID
func (c *Client) Negotiate(ctx context.Context, req NegotiationRequest) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/contractnegotiations")
	if err != nil {
		return "", errors.Transport(err, "发起协商失败")
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return "", errors.Transport(fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()), "协商服务返回错误")
	}
	if out.ID == "" {
		return "", errors.Transport(fmt.Errorf("empty negotiation id"), "协商服务返回错误")
	}
	return out.ID, nil
}

// FindNegotiation 查询协商状态；不存在时返回 ErrNotFound
func (c *Client) FindNegotiation(ctx context.Context, id string) (*Negotiation, error) {
	var out Negotiation
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/contractnegotiations/" + id)
	if err != nil {
		return nil, errors.Transport(err, "查询协商失败")
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		return &out, nil
	case http.StatusNotFound:
		return nil, errors.Wrapf(errors.ErrNotFound, "negotiation %s", id)
	default:
		return nil, errors.Transport(fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()), "协商服务返回错误")
	}
}
