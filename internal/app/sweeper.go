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
	"sync"
	"time"

	"malo-handover/internal/coordination"
	"malo-handover/pkg/log"
)

// DefaultSweepInterval 未配置 worker.poll_interval 时的巡检间隔
const DefaultSweepInterval = 30 * time.Second

// Sweeper 周期性执行超时巡检，API 与 Worker 共用
type Sweeper struct {
	watcher  *coordination.Watcher
	interval time.Duration
	logger   *log.Logger
	now      func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSweeper 创建巡检循环
func NewSweeper(w *coordination.Watcher, interval time.Duration, logger *log.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Sweeper{
		watcher:  w,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start 启动后台循环；启动时先巡检一次，接管上次进程遗留的运行
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.SweepOnce(ctx)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.SweepOnce(ctx)
			}
		}
	}()
}

// SweepOnce 执行一次巡检，错误只记录
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	n, err := s.watcher.Sweep(ctx, s.now())
	if err != nil {
		s.logger.Error("超时巡检失败", "error", err)
		return 0
	}
	if n > 0 {
		s.logger.Info("超时巡检完成", "expired", n)
	}
	return n
}

// Stop 停止循环并等待退出，可重复调用
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}
