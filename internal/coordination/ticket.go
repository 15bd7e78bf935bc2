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

// Package coordination 一轮扇出-等待-汇总：向每个对手方下发请求，按间隔轮询响应，截止后汇总结果。
// 引擎在两次运行之间不保留状态；同一计量点的运行串行化由调用方负责。
package coordination

import (
	"fmt"
	"time"
)

// TicketState 票据状态，只会从 Pending 单向转到 Resolved 或 Unresolved
type TicketState int

const (
	TicketPending TicketState = iota
	TicketResolved
	TicketUnresolved
)

func (s TicketState) String() string {
	switch s {
	case TicketPending:
		return "pending"
	case TicketResolved:
		return "resolved"
	case TicketUnresolved:
		return "unresolved"
	}
	return "unknown"
}

// RunState 运行结果状态
type RunState string

const (
	RunInFlight  RunState = "in_flight"
	RunCompleted RunState = "completed"
	RunTimedOut  RunState = "timed_out"
	RunFailed    RunState = "failed"
)

// Terminal 是否为终态
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunTimedOut || s == RunFailed
}

// Target 一个待协调的对手方及其在记录中的时段位置
type Target struct {
	Counterparty string
	Endpoint     string
	ContractRef  string
	SegmentIndex int
	// Start/End 目标时段的原始区间，供负载构造使用
	Start string
	End   string
}

// Ticket 一次下发请求的跟踪单元
type Ticket struct {
	CorrelationKey string
	Target         Target
	State          TicketState
	Response       []byte
	// IssueErr 下发失败原因；非空时票据已是 Unresolved
	IssueErr   error
	IssuedAt   time.Time
	ResolvedAt time.Time
}

// CorrelationKey 关联键：{计量点}_{对手方}_{序号}，序号为同一对手方在本次运行中的出现次数
func CorrelationKey(maloID, counterparty string, ordinal int) string {
	return fmt.Sprintf("%s_%s_%d", maloID, counterparty, ordinal)
}

// NewTickets 按目标顺序生成票据，每个目标一张
func NewTickets(maloID string, targets []Target) []*Ticket {
	seen := make(map[string]int, len(targets))
	tickets := make([]*Ticket, len(targets))
	for i, t := range targets {
		n := seen[t.Counterparty]
		seen[t.Counterparty] = n + 1
		tickets[i] = &Ticket{
			CorrelationKey: CorrelationKey(maloID, t.Counterparty, n),
			Target:         t,
			State:          TicketPending,
		}
	}
	return tickets
}
