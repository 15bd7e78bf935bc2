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

package http

import (
	"bytes"
	"context"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"malo-handover/internal/coordination"
	"malo-handover/internal/handover"
	"malo-handover/internal/malo"
	"malo-handover/internal/supplier"
	"malo-handover/pkg/errors"
	"malo-handover/pkg/metrics"
)

// Handler HTTP 处理器
type Handler struct {
	service   *handover.Service
	responder *supplier.Responder // 可为空：本实例不承担供应商侧
}

// NewHandler 创建处理器
func NewHandler(service *handover.Service, responder *supplier.Responder) *Handler {
	return &Handler{service: service, responder: responder}
}

// HandoverRequest POST /api/malos/:id/handover
type HandoverRequest struct {
	RequestedStart string `json:"requested_start"`
	RequestedEnd   string `json:"requested_end"`
	Timeout        string `json:"timeout,omitempty"` // 如 "30s"，空则使用服务默认
}

// OnboardingRequest POST /api/malos/:id/onboarding
type OnboardingRequest struct {
	SupplierName     string `json:"supplier_name"`
	SupplierEndpoint string `json:"supplier_endpoint,omitempty"`
	Timeout          string `json:"timeout,omitempty"`
}

// CoordinationResponse 交接与接入的统一响应
type CoordinationResponse struct {
	handover.Outcome
	Record *malo.Record `json:"record,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// HealthCheck GET /api/health
func (h *Handler) HealthCheck(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"service":   "malo-handover",
	})
}

// Metrics GET /metrics
func (h *Handler) Metrics(ctx context.Context, c *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		writeError(ctx, c, err)
		return
	}
	c.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}

// GetMalo GET /api/malos/:id
func (h *Handler) GetMalo(ctx context.Context, c *app.RequestContext) {
	rec, err := h.service.Records().Load(ctx, c.Param("id"))
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, rec)
}

// PutMalo PUT /api/malos/:id 登记或覆盖记录；body 中的 maLo 为空时取路径参数
func (h *Handler) PutMalo(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	var rec malo.Record
	if err := c.BindJSON(&rec); err != nil {
		writeError(ctx, c, asInvalid(err))
		return
	}
	if rec.ID == "" {
		rec.ID = id
	}
	if rec.ID != id {
		writeError(ctx, c, errors.Invalidf("路径 ID %s 与记录 maLo %s 不一致", id, rec.ID))
		return
	}
	if err := h.service.Records().Save(ctx, &rec); err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, &rec)
}

// ListMaloRuns GET /api/malos/:id/runs?limit=20
func (h *Handler) ListMaloRuns(ctx context.Context, c *app.RequestContext) {
	limit := 20
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(ctx, c, errors.Invalidf("limit 非法: %s", s))
			return
		}
		limit = n
	}
	runs, err := h.service.ListRuns(ctx, c.Param("id"), limit)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	if runs == nil {
		runs = []*coordination.Snapshot{}
	}
	c.JSON(consts.StatusOK, map[string]interface{}{"runs": runs})
}

// StartHandover POST /api/malos/:id/handover，阻塞至运行结束
func (h *Handler) StartHandover(ctx context.Context, c *app.RequestContext) {
	var req HandoverRequest
	if err := c.BindJSON(&req); err != nil {
		writeError(ctx, c, asInvalid(err))
		return
	}
	start, err := malo.ParseDate(req.RequestedStart)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	end, err := malo.ParseDate(req.RequestedEnd)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	deadline, err := deadlineOf(req.Timeout)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	rec, outcome, err := h.service.HandoverByID(ctx, c.Param("id"), start, end, deadline)
	writeCoordination(ctx, c, rec, outcome, err)
}

// StartOnboarding POST /api/malos/:id/onboarding
func (h *Handler) StartOnboarding(ctx context.Context, c *app.RequestContext) {
	var req OnboardingRequest
	if err := c.BindJSON(&req); err != nil {
		writeError(ctx, c, asInvalid(err))
		return
	}
	deadline, err := deadlineOf(req.Timeout)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	candidate := malo.Supplier{Name: req.SupplierName, Endpoint: req.SupplierEndpoint}
	rec, outcome, err := h.service.OnboardingByID(ctx, c.Param("id"), candidate, deadline)
	writeCoordination(ctx, c, rec, outcome, err)
}

// GetRun GET /api/runs/:id
func (h *Handler) GetRun(ctx context.Context, c *app.RequestContext) {
	snap, err := h.service.GetRun(ctx, c.Param("id"))
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, snap)
}

// CancelRun POST /api/runs/:id/cancel
func (h *Handler) CancelRun(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	if err := h.service.Cancel(ctx, id); err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusAccepted, map[string]string{"run_id": id, "status": "cancelling"})
}

// SupplierTermination POST /api/supplier/termination 供应商侧处理终止请求
func (h *Handler) SupplierTermination(ctx context.Context, c *app.RequestContext) {
	if h.responder == nil {
		c.JSON(consts.StatusServiceUnavailable, map[string]string{"error": "supplier responder disabled"})
		return
	}
	var req supplier.TerminationRequest
	if err := c.BindJSON(&req); err != nil {
		writeError(ctx, c, asInvalid(err))
		return
	}
	decision, err := h.responder.HandleTermination(ctx, req)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, decision)
}

// PutContract PUT /api/supplier/contracts 登记合同
func (h *Handler) PutContract(ctx context.Context, c *app.RequestContext) {
	if h.responder == nil {
		c.JSON(consts.StatusServiceUnavailable, map[string]string{"error": "supplier responder disabled"})
		return
	}
	var ct supplier.Contract
	if err := c.BindJSON(&ct); err != nil {
		writeError(ctx, c, asInvalid(err))
		return
	}
	if err := h.responder.PutContract(ctx, ct); err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, ct)
}

// GetContract GET /api/supplier/contracts/:malo/:supplier
func (h *Handler) GetContract(ctx context.Context, c *app.RequestContext) {
	if h.responder == nil {
		c.JSON(consts.StatusServiceUnavailable, map[string]string{"error": "supplier responder disabled"})
		return
	}
	ct, err := h.responder.GetContract(ctx, c.Param("malo"), c.Param("supplier"))
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, ct)
}

func deadlineOf(timeout string) (time.Time, error) {
	if timeout == "" {
		return time.Time{}, nil
	}
	d, err := time.ParseDuration(timeout)
	if err != nil || d <= 0 {
		return time.Time{}, errors.Invalidf("timeout 非法: %q", timeout)
	}
	return time.Now().Add(d), nil
}

func asInvalid(err error) error {
	if errors.Is(err, errors.ErrInvalidInput) {
		return err
	}
	return errors.Invalidf("请求体不是合法 JSON: %v", err)
}

// writeCoordination 未完成与过期都是可处理的业务结果，返回 200 与结论
func writeCoordination(ctx context.Context, c *app.RequestContext, rec *malo.Record, outcome handover.Outcome, err error) {
	if err != nil && !errors.Is(err, errors.ErrHandoverIncomplete) && !errors.Is(err, errors.ErrRunExpired) {
		writeError(ctx, c, err)
		return
	}
	resp := CoordinationResponse{Outcome: outcome, Record: rec}
	if err != nil {
		resp.Error = err.Error()
	}
	c.JSON(consts.StatusOK, resp)
}

// writeError 按错误种类映射状态码
func writeError(ctx context.Context, c *app.RequestContext, err error) {
	status := consts.StatusInternalServerError
	switch {
	case errors.Is(err, errors.ErrInvalidInput):
		status = consts.StatusBadRequest
	case errors.Is(err, errors.ErrNotFound):
		status = consts.StatusNotFound
	case errors.Is(err, errors.ErrLocked):
		status = consts.StatusConflict
	case errors.Is(err, errors.ErrTransport):
		status = consts.StatusBadGateway
	}
	if status == consts.StatusInternalServerError {
		hlog.CtxErrorf(ctx, "request failed: %v", err)
	}
	c.JSON(status, map[string]string{"error": err.Error()})
}
