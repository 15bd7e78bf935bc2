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

	"golang.org/x/sync/errgroup"

	"malo-handover/pkg/log"
	"malo-handover/pkg/metrics"
	"malo-handover/pkg/tracing"
)

// DefaultPollInterval 未配置时的轮询间隔
const DefaultPollInterval = 5 * time.Second

// Options 引擎参数
type Options struct {
	PollInterval     time.Duration
	IssueConcurrency int // <=0 表示不限
	Logger           *log.Logger
}

// Engine 协调引擎，可被多个运行并发复用
type Engine struct {
	channel      Channel
	pollInterval time.Duration
	concurrency  int
	logger       *log.Logger
}

// NewEngine 创建引擎
func NewEngine(ch Channel, opts Options) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Engine{
		channel:      ch,
		pollInterval: opts.PollInterval,
		concurrency:  opts.IssueConcurrency,
		logger:       opts.Logger,
	}
}

// PollInterval 当前轮询间隔
func (e *Engine) PollInterval() time.Duration { return e.pollInterval }

// Result 一次运行的结果
type Result struct {
	Run        RunRef
	State      RunState
	Tickets    []*Ticket
	StartedAt  time.Time
	FinishedAt time.Time
	Deadline   time.Time
}

// Unresolved 未解决票据的对手方名称，按票据顺序
func (r *Result) Unresolved() []string {
	var names []string
	for _, t := range r.Tickets {
		if t.State != TicketResolved {
			names = append(names, t.Target.Counterparty)
		}
	}
	return names
}

// Snapshot 转为可持久化的运行快照
func (r *Result) Snapshot() *Snapshot {
	return &Snapshot{
		ID:         r.Run.ID,
		Kind:       r.Run.Kind,
		MaloID:     r.Run.MaloID,
		State:      r.State,
		StartedAt:  r.StartedAt,
		Deadline:   r.Deadline,
		FinishedAt: r.FinishedAt,
		Tickets:    len(r.Tickets),
		Unresolved: r.Unresolved(),
	}
}

// Run 执行一轮协调：为每个目标下发一次请求，按间隔轮询，直到全部解决、到达截止时间或 ctx 被取消。
// 截止时间为绝对时间；取消视同提前截止。
func (e *Engine) Run(ctx context.Context, run RunRef, targets []Target, build PayloadBuilder, deadline time.Time) *Result {
	started := time.Now()
	res := &Result{
		Run:       run,
		State:     RunInFlight,
		Tickets:   NewTickets(run.MaloID, targets),
		StartedAt: started,
		Deadline:  deadline,
	}
	logger := e.logger.With("run_id", run.ID, "kind", run.Kind, "malo_id", run.MaloID)

	ctx, span := tracing.StartRunSpan(ctx, run.ID, run.Kind, run.MaloID, len(res.Tickets))
	defer span.End()
	metrics.RunsInFlight.WithLabelValues(run.Kind).Inc()
	defer metrics.RunsInFlight.WithLabelValues(run.Kind).Dec()

	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	issueFailed := e.issueAll(runCtx, run, res.Tickets, build, logger)
	e.waitForResponses(runCtx, run, res.Tickets, logger)

	for _, t := range res.Tickets {
		if t.State == TicketPending {
			t.State = TicketUnresolved
		}
		metrics.TicketTotal.WithLabelValues(t.State.String()).Inc()
	}
	res.State = classify(res.Tickets, issueFailed)
	res.FinishedAt = time.Now()

	metrics.RunTotal.WithLabelValues(run.Kind, string(res.State)).Inc()
	metrics.RunDuration.WithLabelValues(run.Kind).Observe(res.FinishedAt.Sub(started).Seconds())
	logger.Info("协调运行结束",
		"state", res.State,
		"tickets", len(res.Tickets),
		"unresolved", res.Unresolved(),
		"duration", res.FinishedAt.Sub(started))
	return res
}

// issueAll 并行下发，返回因传输失败而直接 Unresolved 的票据数。
// 每个 goroutine 只写自己的票据；返回前全部汇合。
func (e *Engine) issueAll(ctx context.Context, run RunRef, tickets []*Ticket, build PayloadBuilder, logger *log.Logger) int {
	failed := make([]bool, len(tickets))
	var g errgroup.Group
	if e.concurrency > 0 {
		g.SetLimit(e.concurrency)
	}
	for i, t := range tickets {
		g.Go(func() error {
			failed[i] = !e.issueOne(ctx, run, t, build, logger)
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, f := range failed {
		if f {
			n++
		}
	}
	return n
}

// issueOne 下发单张票据；截止或取消导致的失败不算传输失败，票据保持 Pending 交给截止处理
func (e *Engine) issueOne(ctx context.Context, run RunRef, t *Ticket, build PayloadBuilder, logger *log.Logger) bool {
	spanCtx, span := tracing.StartIssueSpan(ctx, t.CorrelationKey, t.Target.Counterparty)
	var err error
	defer func() { tracing.EndWithError(span, err) }()

	var payload []byte
	if build != nil {
		payload, err = build(t)
	}
	if err == nil {
		err = e.channel.Issue(spanCtx, run, t, payload)
	}
	if err == nil {
		t.IssuedAt = time.Now()
		return true
	}
	if ctx.Err() != nil {
		logger.Warn("截止前未能完成下发", "key", t.CorrelationKey, "error", err)
		return true
	}
	t.State = TicketUnresolved
	t.IssueErr = err
	metrics.DispatchErrorTotal.WithLabelValues(t.Target.Counterparty).Inc()
	logger.Warn("下发失败，票据直接置为未解决", "key", t.CorrelationKey, "counterparty", t.Target.Counterparty, "error", err)
	return false
}

// waitForResponses 先休眠一个间隔再轮询；已解决的票据不再查询
func (e *Engine) waitForResponses(ctx context.Context, run RunRef, tickets []*Ticket, logger *log.Logger) {
	if countPending(tickets) == 0 {
		return
	}
	timer := time.NewTimer(e.pollInterval)
	defer timer.Stop()
	for round := 1; ; round++ {
		select {
		case <-ctx.Done():
			logger.Info("到达截止时间或被取消", "round", round, "pending", countPending(tickets), "cause", context.Cause(ctx))
			return
		case <-timer.C:
		}
		for _, t := range tickets {
			if t.State != TicketPending {
				continue
			}
			if ctx.Err() != nil {
				break
			}
			if resp, ok := e.channel.Poll(ctx, run, t.CorrelationKey); ok {
				t.State = TicketResolved
				t.Response = resp
				t.ResolvedAt = time.Now()
				logger.Debug("收到响应", "key", t.CorrelationKey, "round", round)
			}
		}
		if countPending(tickets) == 0 {
			return
		}
		timer.Reset(e.pollInterval)
	}
}

func countPending(tickets []*Ticket) int {
	n := 0
	for _, t := range tickets {
		if t.State == TicketPending {
			n++
		}
	}
	return n
}

// classify 全部解决为 Completed；全部下发失败为 Failed；其余为 TimedOut。空运行视为 Completed
func classify(tickets []*Ticket, issueFailed int) RunState {
	if len(tickets) > 0 && issueFailed == len(tickets) {
		return RunFailed
	}
	for _, t := range tickets {
		if t.State != TicketResolved {
			return RunTimedOut
		}
	}
	return RunCompleted
}
