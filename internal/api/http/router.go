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

// Package http Hertz HTTP 接口：计量点记录、交接/接入触发、运行查询与供应商侧应答
package http

import (
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	hconfig "github.com/cloudwego/hertz/pkg/common/config"

	"malo-handover/internal/api/http/middleware"
)

// Router HTTP 路由
type Router struct {
	handler    *Handler
	middleware *middleware.Middleware
	extra      []app.HandlerFunc
}

// NewRouter 创建路由
func NewRouter(handler *Handler, mw *middleware.Middleware) *Router {
	if mw == nil {
		mw = middleware.NewMiddleware()
	}
	return &Router{handler: handler, middleware: mw}
}

// Use 追加在内置中间件之前执行的中间件，须在 Build 之前调用
func (r *Router) Use(h ...app.HandlerFunc) {
	r.extra = append(r.extra, h...)
}

// Build 创建 Hertz 实例并注册路由；opts 可附加链路追踪等服务端选项
func (r *Router) Build(addr string, opts ...hconfig.Option) *server.Hertz {
	opts = append([]hconfig.Option{server.WithHostPorts(addr)}, opts...)
	h := server.Default(opts...)
	r.Register(h)
	return h
}

// Register 在已有实例上注册路由
func (r *Router) Register(h *server.Hertz) {
	if len(r.extra) > 0 {
		h.Use(r.extra...)
	}
	h.Use(r.middleware.AccessLog(), r.middleware.CORS(), r.middleware.Auth(), r.middleware.RateLimit())

	h.GET("/metrics", r.handler.Metrics)

	api := h.Group("/api")
	api.GET("/health", r.handler.HealthCheck)

	malos := api.Group("/malos")
	malos.GET("/:id", r.handler.GetMalo)
	malos.PUT("/:id", r.handler.PutMalo)
	malos.GET("/:id/runs", r.handler.ListMaloRuns)
	malos.POST("/:id/handover", r.handler.StartHandover)
	malos.POST("/:id/onboarding", r.handler.StartOnboarding)

	runs := api.Group("/runs")
	runs.GET("/:id", r.handler.GetRun)
	runs.POST("/:id/cancel", r.handler.CancelRun)

	sup := api.Group("/supplier")
	sup.POST("/termination", r.handler.SupplierTermination)
	sup.PUT("/contracts", r.handler.PutContract)
	sup.GET("/contracts/:malo/:supplier", r.handler.GetContract)
}
