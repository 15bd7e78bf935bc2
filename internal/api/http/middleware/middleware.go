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

package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"golang.org/x/time/rate"
)

// HeaderAPIKey 访问密钥请求头，与传输子系统一致
const HeaderAPIKey = "X-Api-Key"

// Middleware 中间件集合
type Middleware struct {
	apiKey  string
	limiter *rate.Limiter
	// openPaths 免鉴权、免限流的路径
	openPaths map[string]bool
}

// Option 中间件可选项
type Option func(*Middleware)

// WithAPIKey 要求请求携带 X-Api-Key
func WithAPIKey(key string) Option {
	return func(m *Middleware) { m.apiKey = key }
}

// WithRateLimit 全局限流，qps<=0 不限
func WithRateLimit(qps float64, burst int) Option {
	return func(m *Middleware) {
		if qps <= 0 {
			return
		}
		if burst <= 0 {
			burst = int(qps) + 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(qps), burst)
	}
}

// NewMiddleware 创建中间件集合
func NewMiddleware(opts ...Option) *Middleware {
	m := &Middleware{openPaths: map[string]bool{"/api/health": true, "/metrics": true}}
	for _, o := range opts {
		o(m)
	}
	return m
}

// CORS 允许跨域
func (m *Middleware) CORS() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, "+HeaderAPIKey)
		c.Header("Access-Control-Max-Age", "86400")
		if string(c.Method()) == consts.MethodOptions {
			c.AbortWithStatus(consts.StatusNoContent)
			return
		}
		c.Next(ctx)
	}
}

// Auth 校验访问密钥；未配置密钥时放行
func (m *Middleware) Auth() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if m.apiKey == "" || m.openPaths[string(c.Path())] {
			c.Next(ctx)
			return
		}
		if strings.TrimSpace(string(c.GetHeader(HeaderAPIKey))) != m.apiKey {
			c.AbortWithStatusJSON(consts.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			return
		}
		c.Next(ctx)
	}
}

// RateLimit 超出速率返回 429
func (m *Middleware) RateLimit() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if m.limiter != nil && !m.openPaths[string(c.Path())] && !m.limiter.Allow() {
			c.AbortWithStatusJSON(consts.StatusTooManyRequests, map[string]string{"error": "请求过于频繁，请稍后再试"})
			return
		}
		c.Next(ctx)
	}
}

// AccessLog 访问日志
func (m *Middleware) AccessLog() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		c.Next(ctx)
		hlog.CtxInfof(ctx, "%s %s %d %s %s",
			c.Method(), c.Path(), c.Response.StatusCode(), c.ClientIP(), time.Since(start))
	}
}
