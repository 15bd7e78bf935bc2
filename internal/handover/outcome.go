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

import "malo-handover/internal/coordination"

// OutcomeKind 对调用方暴露的协调结论
type OutcomeKind string

const (
	OutcomeCompleted       OutcomeKind = "completed"
	OutcomePartiallyFailed OutcomeKind = "partially_failed"
	OutcomeTransportFailed OutcomeKind = "transport_failed"
)

// Outcome 协调结论；RunID 为空表示没有启动运行（无冲突）
type Outcome struct {
	Kind       OutcomeKind           `json:"outcome"`
	Unresolved []string              `json:"unresolved,omitempty"`
	RunID      string                `json:"run_id,omitempty"`
	State      coordination.RunState `json:"state,omitempty"`
}

// OutcomeOf 由运行结果推出结论
func OutcomeOf(res *coordination.Result) Outcome {
	o := Outcome{RunID: res.Run.ID, State: res.State}
	switch res.State {
	case coordination.RunCompleted:
		o.Kind = OutcomeCompleted
	case coordination.RunFailed:
		o.Kind = OutcomeTransportFailed
		o.Unresolved = res.Unresolved()
	default:
		o.Kind = OutcomePartiallyFailed
		o.Unresolved = res.Unresolved()
	}
	return o
}
