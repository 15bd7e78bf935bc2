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

package transfer

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"malo-handover/pkg/errors"
	"malo-handover/pkg/log"
	"malo-handover/pkg/metrics"
)

// GuardConfig 熔断与限流参数
type GuardConfig struct {
	BreakerEnabled   bool
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	QPS              float64 // <=0 不限流
	Burst            int
}

// GuardedDispatcher 为每个对手方维护一个熔断器，并对全部下发做全局限流
type GuardedDispatcher struct {
	next     Dispatcher
	cfg      GuardConfig
	limiter  *rate.Limiter
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[string]
	logger   *log.Logger
}

// NewGuardedDispatcher 包装下发客户端
func NewGuardedDispatcher(next Dispatcher, cfg GuardConfig, logger *log.Logger) *GuardedDispatcher {
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}
	g := &GuardedDispatcher{
		next:     next,
		cfg:      cfg,
		breakers: make(map[string]*gobreaker.CircuitBreaker[string]),
		logger:   logger,
	}
	if cfg.QPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.QPS), burst)
	}
	return g
}

func (g *GuardedDispatcher) breaker(counterparty string) *gobreaker.CircuitBreaker[string] {
	if !g.cfg.BreakerEnabled {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if cb, ok := g.breakers[counterparty]; ok {
		return cb
	}
	threshold := g.cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        counterparty,
		MaxRequests: g.cfg.MaxRequests,
		Interval:    g.cfg.Interval,
		Timeout:     g.cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Info("熔断器状态变化", "counterparty", name, "from", from.String(), "to", to.String())
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	g.breakers[counterparty] = cb
	return cb
}

// Dispatch 限流后经熔断器下发；熔断打开时直接返回 ErrTransport
func (g *GuardedDispatcher) Dispatch(ctx context.Context, req *DispatchRequest) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", errors.Transport(err, "等待下发配额失败")
		}
	}
	cb := g.breaker(req.Counterparty)
	if cb == nil {
		return g.next.Dispatch(ctx, req)
	}
	id, err := cb.Execute(func() (string, error) {
		return g.next.Dispatch(ctx, req)
	})
	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", errors.Transport(err, "对手方熔断中")
	}
	return id, err
}
