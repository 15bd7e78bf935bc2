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

package coordination

import (
	"context"
	"time"

	"malo-handover/pkg/errors"
	"malo-handover/pkg/log"
	"malo-handover/pkg/metrics"
)

// DefaultMaxLifetime 运行的最长存活时间
const DefaultMaxLifetime = 5 * time.Minute

// Snapshot 运行的持久化视图
type Snapshot struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	MaloID     string    `json:"malo_id"`
	State      RunState  `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	Deadline   time.Time `json:"deadline"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Tickets    int       `json:"tickets"`
	Unresolved []string  `json:"unresolved,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// RunTracker 巡检所需的运行存储能力
type RunTracker interface {
	// ListInFlight 列出 InFlight 运行，按开始时间升序，最多 limit 条（<=0 不限）
	ListInFlight(ctx context.Context, limit int) ([]*Snapshot, error)
	// Expire 仅当运行仍为 InFlight 时置为 TimedOut 并记录原因；返回是否实际更新
	Expire(ctx context.Context, id string, reason string, at time.Time) (bool, error)
}

// IsExpired 运行自 startedAt 起已超过 maxLifetime
func IsExpired(startedAt, now time.Time, maxLifetime time.Duration) bool {
	return now.Sub(startedAt) > maxLifetime
}

// Watcher 超时巡检：把超过最长存活时间仍未结束的运行强制置为 TimedOut
type Watcher struct {
	tracker     RunTracker
	maxLifetime time.Duration
	batchSize   int
	onExpire    func(ctx context.Context, snap *Snapshot)
	logger      *log.Logger
}

// WatcherOption 巡检可选项
type WatcherOption func(*Watcher)

// WithOnExpire 运行被强制结束后的回调（如取消进程内运行、发布事件）
func WithOnExpire(fn func(ctx context.Context, snap *Snapshot)) WatcherOption {
	return func(w *Watcher) { w.onExpire = fn }
}

// WithBatchSize 单次巡检处理上限
func WithBatchSize(n int) WatcherOption {
	return func(w *Watcher) { w.batchSize = n }
}

// WithWatcherLogger 设置日志
func WithWatcherLogger(l *log.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// NewWatcher 创建巡检；maxLifetime<=0 时使用 DefaultMaxLifetime
func NewWatcher(tracker RunTracker, maxLifetime time.Duration, opts ...WatcherOption) *Watcher {
	if maxLifetime <= 0 {
		maxLifetime = DefaultMaxLifetime
	}
	w := &Watcher{tracker: tracker, maxLifetime: maxLifetime, logger: log.Nop()}
	for _, o := range opts {
		o(w)
	}
	return w
}

// MaxLifetime 当前最长存活时间
func (w *Watcher) MaxLifetime() time.Duration { return w.maxLifetime }

// Sweep 执行一次巡检，返回被强制结束的运行数
func (w *Watcher) Sweep(ctx context.Context, now time.Time) (int, error) {
	runs, err := w.tracker.ListInFlight(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, r := range runs {
		if !IsExpired(r.StartedAt, now, w.maxLifetime) {
			continue
		}
		ok, err := w.tracker.Expire(ctx, r.ID, errors.ErrRunExpired.Error(), now)
		if err != nil {
			w.logger.Warn("强制结束运行失败", "run_id", r.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		expired++
		metrics.RunsExpiredTotal.Inc()
		w.logger.Warn("运行超过最长存活时间，已强制置为超时", "run_id", r.ID, "malo_id", r.MaloID, "started_at", r.StartedAt)
		if w.onExpire != nil {
			snap := *r
			snap.State = RunTimedOut
			snap.Reason = errors.ErrRunExpired.Error()
			snap.FinishedAt = now
			w.onExpire(ctx, &snap)
		}
	}
	return expired, nil
}
