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

package handover

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"malo-handover/internal/coordination"
	"malo-handover/internal/events"
	"malo-handover/internal/lock"
	"malo-handover/internal/malo"
	"malo-handover/internal/runstore"
	"malo-handover/pkg/errors"
	"malo-handover/pkg/log"
)

// 运行种类
const (
	KindHandover   = "handover"
	KindOnboarding = "onboarding"
)

// DefaultDeadline 调用方未给截止时间时使用
const DefaultDeadline = 2 * time.Minute

// errCancelled 运维主动取消
var errCancelled = errors.New("run cancelled by operator")

// Deps Service 依赖
type Deps struct {
	HandoverChannel   coordination.Channel
	OnboardingChannel coordination.Channel // 可为空，此时接入流程不可用
	Engine            coordination.Options
	Records           *malo.Repository
	Runs              runstore.Store
	Locker            lock.Locker
	Publisher         events.Publisher
	DefaultDeadline   time.Duration
	MaxLifetime       time.Duration
	LockTTL           time.Duration
	Logger            *log.Logger
}

// Service 供应商变更与接入的协调入口
type Service struct {
	handover     *coordination.Engine
	onboarding   *coordination.Engine
	handoverCh   coordination.Channel
	onboardingCh coordination.Channel

	records   *malo.Repository
	runs      runstore.Store
	locker    lock.Locker
	publisher events.Publisher

	defaultDeadline time.Duration
	maxLifetime     time.Duration
	lockTTL         time.Duration
	logger          *log.Logger

	now   func() time.Time
	newID func() string

	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc
}

// lockMargin 锁有效期超出运行最长存活时间的余量，覆盖收尾与写回
const lockMargin = time.Minute

// NewService 组装协调服务；未提供的存储类依赖使用内存实现
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = log.Nop()
	}
	if d.Engine.Logger == nil {
		d.Engine.Logger = d.Logger
	}
	if d.Runs == nil {
		d.Runs = runstore.NewMemoryStore()
	}
	if d.Locker == nil {
		d.Locker = lock.NewMemoryLocker()
	}
	if d.Publisher == nil {
		d.Publisher = events.NewNoopPublisher(d.Logger)
	}
	if d.DefaultDeadline <= 0 {
		d.DefaultDeadline = DefaultDeadline
	}
	if d.MaxLifetime <= 0 {
		d.MaxLifetime = coordination.DefaultMaxLifetime
	}
	if d.LockTTL <= 0 {
		d.LockTTL = lock.DefaultTTL
	}
	// 锁须在最长运行期间内保持有效，否则运行未结束时其他请求即可拿到锁
	if d.LockTTL <= d.MaxLifetime {
		d.Logger.Warn("锁有效期不长于运行最长存活时间，已上调", "lock_ttl", d.LockTTL, "max_lifetime", d.MaxLifetime)
		d.LockTTL = d.MaxLifetime + lockMargin
	}
	s := &Service{
		handover:        coordination.NewEngine(d.HandoverChannel, d.Engine),
		handoverCh:      d.HandoverChannel,
		onboardingCh:    d.OnboardingChannel,
		records:         d.Records,
		runs:            d.Runs,
		locker:          d.Locker,
		publisher:       d.Publisher,
		defaultDeadline: d.DefaultDeadline,
		maxLifetime:     d.MaxLifetime,
		lockTTL:         d.LockTTL,
		logger:          d.Logger,
		now:             time.Now,
		newID:           uuid.NewString,
		cancels:         make(map[string]context.CancelCauseFunc),
	}
	if d.OnboardingChannel != nil {
		s.onboarding = coordination.NewEngine(d.OnboardingChannel, d.Engine)
	}
	return s
}

// Runs 运行存储
func (s *Service) Runs() runstore.Store { return s.runs }

// Records 记录仓库
func (s *Service) Records() *malo.Repository { return s.records }

// CoordinateHandover 对与 requestedStart 冲突的每个供应商请求提前终止，全部同意后返回合并后的新记录。
// 无冲突时不启动运行，原样返回记录。未完成时返回原记录、PartiallyFailed/TransportFailed 结论与 HandoverIncomplete。
func (s *Service) CoordinateHandover(ctx context.Context, rec *malo.Record, requestedStart, requestedEnd malo.Date, deadline time.Time) (*malo.Record, Outcome, error) {
	req := malo.HandoverRequest{RequestedStart: requestedStart, RequestedEnd: requestedEnd, Record: rec}
	if err := req.Validate(); err != nil {
		return rec, Outcome{}, err
	}
	return s.coordinateHandover(ctx, rec, requestedStart, deadline)
}

func (s *Service) coordinateHandover(ctx context.Context, rec *malo.Record, requestedStart malo.Date, deadline time.Time) (*malo.Record, Outcome, error) {
	conflicts := Resolve(rec.Segments, requestedStart)
	if len(conflicts) == 0 {
		s.logger.Info("无冲突时段，无需协调", "malo_id", rec.ID, "requested_start", requestedStart.String())
		return rec, Outcome{Kind: OutcomeCompleted}, nil
	}

	// 供应商按新供应开始日判断周期，end_date 为其前一天
	payload := map[string]string{
		"end_date":        requestedStart.AddDays(-1).String(),
		"requested_start": requestedStart.String(),
	}
	build := func(t *coordination.Ticket) ([]byte, error) {
		return json.Marshal(payload)
	}
	res, err := s.execute(ctx, KindHandover, s.handover, s.handoverCh, rec.ID, conflicts.Targets(rec), build, deadline)
	if err != nil {
		return rec, Outcome{}, err
	}
	merged, mergeErr := MergeEndDates(rec, res)
	return s.conclude(ctx, rec, merged, mergeErr, res)
}

// HandoverByID 加锁、读取记录、协调，成功后写回新记录
func (s *Service) HandoverByID(ctx context.Context, id string, requestedStart, requestedEnd malo.Date, deadline time.Time) (*malo.Record, Outcome, error) {
	// 已存记录可能含已作废时段，这里只校验请求区间
	req := malo.HandoverRequest{RequestedStart: requestedStart, RequestedEnd: requestedEnd, Record: &malo.Record{ID: id}}
	if err := req.Validate(); err != nil {
		return nil, Outcome{}, err
	}
	return s.withRecord(ctx, id, func(rec *malo.Record) (*malo.Record, Outcome, error) {
		return s.coordinateHandover(ctx, rec, requestedStart, deadline)
	})
}

// OnboardingByID 加锁、读取记录、协商合同，成功后写回新记录
func (s *Service) OnboardingByID(ctx context.Context, id string, candidate malo.Supplier, deadline time.Time) (*malo.Record, Outcome, error) {
	return s.withRecord(ctx, id, func(rec *malo.Record) (*malo.Record, Outcome, error) {
		return s.CoordinateOnboarding(ctx, rec, candidate, deadline)
	})
}

func (s *Service) withRecord(ctx context.Context, id string, fn func(rec *malo.Record) (*malo.Record, Outcome, error)) (*malo.Record, Outcome, error) {
	if s.records == nil {
		return nil, Outcome{}, errors.New("未配置记录仓库")
	}
	release, err := s.locker.Acquire(ctx, id, s.lockTTL)
	if err != nil {
		return nil, Outcome{}, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("释放计量点锁失败", "malo_id", id, "error", err)
		}
	}()

	rec, err := s.records.Load(ctx, id)
	if err != nil {
		return nil, Outcome{}, err
	}
	out, outcome, err := fn(rec)
	if err != nil || outcome.RunID == "" {
		return out, outcome, err
	}
	if err := s.records.Replace(context.WithoutCancel(ctx), out); err != nil {
		return rec, outcome, errors.Wrap(err, "保存合并后的记录失败")
	}
	return out, outcome, nil
}

// execute 登记运行并驱动引擎；运行期间可被 Cancel 或超时巡检中止
func (s *Service) execute(ctx context.Context, kind string, engine *coordination.Engine, ch coordination.Channel,
	maloID string, targets []coordination.Target, build coordination.PayloadBuilder, deadline time.Time) (*coordination.Result, error) {
	now := s.now()
	deadline = s.clampDeadline(now, deadline)
	run := coordination.RunRef{ID: s.newID(), MaloID: maloID, Kind: kind}

	// 先登记取消函数，运行一旦可见即可被取消
	runCtx, cancel := context.WithCancelCause(ctx)
	s.mu.Lock()
	s.cancels[run.ID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.cancels, run.ID)
		s.mu.Unlock()
		cancel(nil)
	}()

	if err := s.runs.Create(ctx, &coordination.Snapshot{
		ID:        run.ID,
		Kind:      kind,
		MaloID:    maloID,
		State:     coordination.RunInFlight,
		StartedAt: now,
		Deadline:  deadline,
		Tickets:   len(targets),
	}); err != nil {
		return nil, errors.Wrap(err, "登记运行失败")
	}

	s.logger.Info("开始协调运行", "run_id", run.ID, "kind", kind, "malo_id", maloID, "targets", len(targets), "deadline", deadline)
	res := engine.Run(runCtx, run, targets, build, deadline)

	if r, ok := ch.(coordination.Releaser); ok {
		if err := r.Release(context.WithoutCancel(ctx), run); err != nil {
			s.logger.Warn("释放运行资源失败", "run_id", run.ID, "error", err)
		}
	}
	return res, nil
}

// clampDeadline 零值使用默认截止；不超过最长存活时间
func (s *Service) clampDeadline(now, deadline time.Time) time.Time {
	if deadline.IsZero() {
		deadline = now.Add(s.defaultDeadline)
	}
	if limit := now.Add(s.maxLifetime); deadline.After(limit) {
		deadline = limit
	}
	return deadline
}

// conclude 写入终态、发布事件并决定返回哪份记录
func (s *Service) conclude(ctx context.Context, rec, merged *malo.Record, mergeErr error, res *coordination.Result) (*malo.Record, Outcome, error) {
	outcome := OutcomeOf(res)
	snap := res.Snapshot()
	var me *MergeError
	if errors.As(mergeErr, &me) {
		// 所有对手方都已响应，但响应无法写入记录：运行按失败收尾
		snap.State = coordination.RunFailed
		snap.Reason = mergeErr.Error()
		snap.Unresolved = []string{me.Counterparty}
		outcome.Kind = OutcomePartiallyFailed
		outcome.State = coordination.RunFailed
		outcome.Unresolved = snap.Unresolved
		s.logger.Warn("合并响应失败", "run_id", snap.ID, "counterparty", me.Counterparty, "error", mergeErr)
	}

	bg := context.WithoutCancel(ctx)
	ok, err := s.runs.Finish(bg, snap)
	switch {
	case err != nil:
		s.logger.Warn("写入运行终态失败", "run_id", snap.ID, "error", err)
	case !ok:
		// 巡检已强制结束该运行，本次结果作废
		outcome.Kind = OutcomePartiallyFailed
		outcome.State = coordination.RunTimedOut
		outcome.Unresolved = counterparties(res)
		return rec, outcome, errors.Wrapf(errors.ErrRunExpired, "run %s", snap.ID)
	}

	s.publish(bg, snap, outcome)
	if mergeErr != nil {
		return rec, outcome, mergeErr
	}
	return merged, outcome, nil
}

func counterparties(res *coordination.Result) []string {
	names := make([]string, 0, len(res.Tickets))
	for _, t := range res.Tickets {
		names = append(names, t.Target.Counterparty)
	}
	return names
}

func (s *Service) publish(ctx context.Context, snap *coordination.Snapshot, outcome Outcome) {
	ev := &events.RunFinished{
		RunID:      snap.ID,
		MaloID:     snap.MaloID,
		Kind:       snap.Kind,
		State:      string(snap.State),
		Outcome:    string(outcome.Kind),
		Unresolved: snap.Unresolved,
		Reason:     snap.Reason,
		FinishedAt: snap.FinishedAt,
	}
	if err := events.PublishRunFinished(ctx, s.publisher, ev); err != nil {
		s.logger.Warn("发布运行结果失败", "run_id", snap.ID, "error", err)
	}
}

// GetRun 查询运行
func (s *Service) GetRun(ctx context.Context, id string) (*coordination.Snapshot, error) {
	return s.runs.Get(ctx, id)
}

// ListRuns 某计量点最近的运行
func (s *Service) ListRuns(ctx context.Context, maloID string, limit int) ([]*coordination.Snapshot, error) {
	return s.runs.ListByMalo(ctx, maloID, limit)
}

// Cancel 中止本进程内正在执行的运行；未解决的票据随即变为 Unresolved
func (s *Service) Cancel(ctx context.Context, runID string) error {
	s.mu.Lock()
	cancel, ok := s.cancels[runID]
	s.mu.Unlock()
	if ok {
		cancel(errCancelled)
		s.logger.Info("运行已被取消", "run_id", runID)
		return nil
	}
	snap, err := s.runs.Get(ctx, runID)
	if err != nil {
		return err
	}
	if snap.State.Terminal() {
		return errors.Invalidf("运行 %s 已结束: %s", runID, snap.State)
	}
	return errors.Invalidf("运行 %s 不在本实例执行", runID)
}

// OnExpire 超时巡检回调：中止本进程内的运行并发布事件
func (s *Service) OnExpire(ctx context.Context, snap *coordination.Snapshot) {
	s.mu.Lock()
	cancel, ok := s.cancels[snap.ID]
	s.mu.Unlock()
	if ok {
		cancel(errors.ErrRunExpired)
	}
	s.publish(ctx, snap, Outcome{Kind: OutcomePartiallyFailed, RunID: snap.ID, State: snap.State})
}
