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

package app

import (
	"context"
	"fmt"

	"malo-handover/internal/coordination"
	"malo-handover/internal/events"
	"malo-handover/internal/handover"
	"malo-handover/internal/lock"
	"malo-handover/internal/malo"
	"malo-handover/internal/negotiation"
	"malo-handover/internal/runstore"
	"malo-handover/internal/storage/object"
	"malo-handover/internal/supplier"
	"malo-handover/internal/transfer"
	"malo-handover/pkg/config"
	"malo-handover/pkg/log"
	"malo-handover/pkg/secrets"
)

// Bootstrap 统一初始化：供 api 与 worker 复用，cmd 内只做加载配置与信号处理
type Bootstrap struct {
	Config    *config.Config
	Logger    *log.Logger
	Secrets   secrets.Store
	Objects   object.Store
	Records   *malo.Repository
	Runs      runstore.Store
	Locker    lock.Locker
	Publisher events.Publisher
	Responder *supplier.Responder
	Service   *handover.Service
}

// NewBootstrap 根据配置创建全部依赖；secret:// 引用在此解析
func NewBootstrap(ctx context.Context, cfg *config.Config) (*Bootstrap, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置为空")
	}
	logger, err := log.NewLogger(&log.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	b := &Bootstrap{Config: cfg, Logger: logger}

	b.Secrets, err = secrets.NewStore(cfg.Secrets)
	if err != nil {
		return nil, fmt.Errorf("初始化 secret store 失败: %w", err)
	}
	if err := b.resolveSecrets(ctx); err != nil {
		return nil, err
	}

	b.Objects, err = object.NewStore(ctx, cfg.Storage.Object)
	if err != nil {
		return nil, fmt.Errorf("初始化对象存储失败: %w", err)
	}
	b.Records = malo.NewRepository(b.Objects, cfg.Handover.RecordContainer)

	b.Runs, err = runstore.NewStore(ctx, cfg.RunStore)
	if err != nil {
		return nil, fmt.Errorf("初始化运行存储失败: %w", err)
	}
	b.Locker, err = lock.NewLocker(cfg.Lock)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("初始化锁失败: %w", err)
	}
	b.Publisher, err = events.NewPublisher(cfg.Events, logger)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("初始化事件发布失败: %w", err)
	}

	b.Responder = supplier.NewResponder(b.Objects, cfg.Supplier.ContractContainer, supplier.WithLogger(logger))

	dispatcher, err := b.newDispatcher()
	if err != nil {
		b.Close()
		return nil, err
	}
	deps := handover.Deps{
		HandoverChannel: transfer.NewObjectChannel(dispatcher, b.Objects, cfg.Supplier.Name, logger),
		Engine: coordination.Options{
			PollInterval:     config.Duration(cfg.Handover.PollInterval, coordination.DefaultPollInterval),
			IssueConcurrency: cfg.Handover.IssueConcurrency,
			Logger:           logger,
		},
		Records:         b.Records,
		Runs:            b.Runs,
		Locker:          b.Locker,
		Publisher:       b.Publisher,
		DefaultDeadline: config.Duration(cfg.Handover.DefaultDeadline, handover.DefaultDeadline),
		MaxLifetime:     config.Duration(cfg.Handover.MaxLifetime, coordination.DefaultMaxLifetime),
		LockTTL:         config.Duration(cfg.Lock.TTL, lock.DefaultTTL),
		Logger:          logger,
	}
	if nc := cfg.Negotiation; nc.BaseURL != "" {
		client := negotiation.NewClient(nc.BaseURL, nc.APIKey, config.Duration(nc.Timeout, 0))
		deps.OnboardingChannel = negotiation.NewChannel(client, negotiation.ChannelOptions{
			AssetType:   nc.AssetType,
			ConnectorID: cfg.Supplier.Name,
			PollTimeout: config.Duration(nc.PollTimeout, 0),
			Logger:      logger,
		})
	} else {
		logger.Info("未配置协商子系统，接入流程不可用")
	}
	b.Service = handover.NewService(deps)
	return b, nil
}

// resolveSecrets 把配置中的 secret://KEY 替换为实际值
func (b *Bootstrap) resolveSecrets(ctx context.Context) error {
	cfg := b.Config
	for name, p := range map[string]*string{
		"api.api_key":         &cfg.API.APIKey,
		"transfer.api_key":    &cfg.Transfer.APIKey,
		"negotiation.api_key": &cfg.Negotiation.APIKey,
		"runstore.dsn":        &cfg.RunStore.DSN,
		"lock.password":       &cfg.Lock.Password,
		"events.url":          &cfg.Events.URL,
	} {
		v, err := secrets.Resolve(ctx, b.Secrets, *p)
		if err != nil {
			return fmt.Errorf("解析 %s 失败: %w", name, err)
		}
		*p = v
	}
	return nil
}

// newDispatcher http 模式经熔断与限流包装；loopback 直接交给本进程的供应商应答器
func (b *Bootstrap) newDispatcher() (transfer.Dispatcher, error) {
	tc := b.Config.Transfer
	switch tc.Type {
	case "", "loopback":
		return transfer.NewLoopbackDispatcher(b.Responder, b.Logger), nil
	case "http":
		if tc.BaseURL == "" {
			return nil, fmt.Errorf("transfer.type=http 时 base_url 必填")
		}
		httpd := transfer.NewHTTPDispatcher(transfer.HTTPConfig{
			BaseURL: tc.BaseURL,
			APIKey:  tc.APIKey,
			Timeout: config.Duration(tc.Timeout, 0),
		})
		return transfer.NewGuardedDispatcher(httpd, transfer.GuardConfig{
			BreakerEnabled:   tc.Breaker.Enable,
			MaxRequests:      tc.Breaker.MaxRequests,
			Interval:         config.Duration(tc.Breaker.Interval, 0),
			Timeout:          config.Duration(tc.Breaker.Timeout, 0),
			FailureThreshold: tc.Breaker.FailureThreshold,
			QPS:              tc.RateLimit.QPS,
			Burst:            tc.RateLimit.Burst,
		}, b.Logger), nil
	default:
		return nil, fmt.Errorf("不支持的 transfer 类型: %s", tc.Type)
	}
}

// NewWatcher 超时巡检，过期运行交给 Service 取消并发布事件
func (b *Bootstrap) NewWatcher() *coordination.Watcher {
	return coordination.NewWatcher(b.Runs,
		config.Duration(b.Config.Handover.MaxLifetime, coordination.DefaultMaxLifetime),
		coordination.WithOnExpire(b.Service.OnExpire),
		coordination.WithBatchSize(b.Config.Worker.BatchSize),
		coordination.WithWatcherLogger(b.Logger),
	)
}

// Close 释放外部连接
func (b *Bootstrap) Close() {
	if b.Publisher != nil {
		if err := b.Publisher.Close(); err != nil {
			b.Logger.Warn("关闭事件发布失败", "error", err)
		}
	}
	if b.Locker != nil {
		if err := b.Locker.Close(); err != nil {
			b.Logger.Warn("关闭锁失败", "error", err)
		}
	}
	if b.Runs != nil {
		b.Runs.Close()
	}
}
