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

package worker

import (
	"context"
	"fmt"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"malo-handover/internal/app"
	"malo-handover/pkg/config"
	"malo-handover/pkg/log"
	"malo-handover/pkg/tracing"
)

// App Worker 应用：只做超时巡检，过期运行置为 TimedOut 并发布结果事件
type App struct {
	bootstrap *app.Bootstrap
	sweeper   *app.Sweeper
	tracer    *sdktrace.TracerProvider
	logger    *log.Logger
	cancel    context.CancelFunc
}

// NewApp 创建 Worker 应用
func NewApp(cfg *config.Config) (*App, error) {
	b, err := app.NewBootstrap(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	a := &App{
		bootstrap: b,
		logger:    b.Logger,
		sweeper:   app.NewSweeper(b.NewWatcher(), config.Duration(cfg.Worker.PollInterval, app.DefaultSweepInterval), b.Logger),
	}
	if tc := cfg.Monitoring.Tracing; tc.Enable {
		a.tracer, err = tracing.InitTracer(tracing.OTelConfig{
			ServiceName:    tc.ServiceName,
			ExportEndpoint: tc.ExportEndpoint,
			Insecure:       tc.Insecure,
		})
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("初始化链路追踪失败: %w", err)
		}
	}
	return a, nil
}

// Start 启动巡检循环
func (a *App) Start() error {
	a.logger.Info("启动 worker 应用")
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.sweeper.Start(ctx)
	a.logger.Info("worker 应用启动成功")
	return nil
}

// Shutdown 关闭应用
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("关闭 worker 应用")
	if a.cancel != nil {
		a.cancel()
	}
	a.sweeper.Stop()
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Error("关闭链路追踪失败", "error", err)
		}
	}
	a.bootstrap.Close()
	a.logger.Info("worker 应用关闭成功")
	return nil
}
