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

import "context"

// RunRef 运行标识，Channel 用它划分响应的存放范围
type RunRef struct {
	ID     string
	MaloID string
	Kind   string
}

// Channel 关联通道：下发一个带关联键的请求，之后按键非阻塞地查询响应。
//
// Issue 以关联键幂等：同一运行内用相同键重复下发不会产生第二个逻辑请求。
// 传输失败时返回 ErrTransport 种类的错误。
//
// Poll 不阻塞也不报错；任何读取失败都视为“尚未到达”。
type Channel interface {
	Issue(ctx context.Context, run RunRef, t *Ticket, payload []byte) error
	Poll(ctx context.Context, run RunRef, key string) ([]byte, bool)
}

// Releaser 可选：运行结束后释放本次运行占用的响应存放空间
type Releaser interface {
	Release(ctx context.Context, run RunRef) error
}

// PayloadBuilder 为每张票据构造下发负载
type PayloadBuilder func(t *Ticket) ([]byte, error)
