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

package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/hertz-contrib/obs-opentelemetry/provider"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"

	"malo-handover/internal/api/http"
	"malo-handover/internal/api/http/middleware"
	"malo-handover/internal/app"
	"malo-handover/pkg/config"
	"malo-handover/pkg/log"
)

// otelProviderShutdown 用于优雅关闭时关闭 OpenTelemetry provider
type otelProviderShutdown interface {
	Shutdown(ctx context.Context) error
}

// App API 应用：装配 Router、Handler、Middleware，可选进程内超时巡检
type App struct {
	bootstrap    *app.Bootstrap
	router       *http.Router
	hertz        *server.Hertz
	otelProvider otelProviderShutdown
	sweeper      *app.Sweeper
	cancel       context.CancelFunc
}

// NewApp 创建 API 应用（由 cmd/api 调用）
func NewApp(bootstrap *app.Bootstrap) (*App, error) {
	if bootstrap == nil || bootstrap.Service == nil {
		return nil, fmt.Errorf("bootstrap 未初始化")
	}
	cfg := bootstrap.Config

	var opts []middleware.Option
	if cfg.API.APIKey != "" {
		opts = append(opts, middleware.WithAPIKey(cfg.API.APIKey))
		bootstrap.Logger.Info("API Key 认证已启用")
	}
	if cfg.API.RateLimit.QPS > 0 {
		opts = append(opts, middleware.WithRateLimit(cfg.API.RateLimit.QPS, cfg.API.RateLimit.Burst))
	}
	handler := http.NewHandler(bootstrap.Service, bootstrap.Responder)

	a := &App{
		bootstrap: bootstrap,
		router:    http.NewRouter(handler, middleware.NewMiddleware(opts...)),
	}
	if cfg.API.Sweep {
		a.sweeper = app.NewSweeper(bootstrap.NewWatcher(), config.Duration(cfg.Worker.PollInterval, app.DefaultSweepInterval), bootstrap.Logger)
	}
	return a, nil
}

// Run 启动 HTTP 服务，addr 如 ":8080"；阻塞直到服务退出
func (a *App) Run(addr string) error {
	cfg := a.bootstrap.Config
	logger := a.bootstrap.Logger
	logger.Info("API 服务启动", "addr", addr)

	var output io.Writer = os.Stdout
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("打开日志文件失败: %w", err)
		}
		output = f
	}
	levelVar := &slog.LevelVar{}
	levelVar.Set(log.ParseLevel(&log.Config{Level: cfg.Log.Level}))
	hlog.SetLogger(hertzslog.NewLogger(
		hertzslog.WithOutput(output),
		hertzslog.WithLevel(levelVar),
	))

	traced := false
	if tc := cfg.Monitoring.Tracing; tc.Enable {
		serviceName := tc.ServiceName
		if serviceName == "" {
			serviceName = "malo-handover-api"
		}
		endpoint := tc.ExportEndpoint
		if endpoint == "" {
			endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		if endpoint != "" {
			popts := []provider.Option{
				provider.WithServiceName(serviceName),
				provider.WithExportEndpoint(endpoint),
			}
			if tc.Insecure {
				popts = append(popts, provider.WithInsecure())
			}
			a.otelProvider = provider.NewOpenTelemetryProvider(popts...)
			tracerOpt, tcfg := hertztracing.NewServerTracer()
			a.router.Use(hertztracing.ServerMiddleware(tcfg))
			a.hertz = a.router.Build(addr, tracerOpt)
			traced = true
			logger.Info("链路追踪已启用", "service_name", serviceName, "endpoint", endpoint)
		}
	}
	if !traced {
		a.hertz = a.router.Build(addr)
	}

	if a.sweeper != nil {
		ctx, cancel := context.WithCancel(context.Background())
		a.cancel = cancel
		a.sweeper.Start(ctx)
		logger.Info("进程内超时巡检已启用")
	}
	return a.hertz.Run()
}

// Shutdown 优雅关闭（传入 ctx 以支持超时，如 cmd 层 WithTimeout）
func (a *App) Shutdown(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	var err error
	if a.hertz != nil {
		err = a.hertz.Shutdown(ctx)
	}
	if a.otelProvider != nil {
		_ = a.otelProvider.Shutdown(ctx)
	}
	a.bootstrap.Close()
	return err
}
