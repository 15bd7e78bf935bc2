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

// Package events 协调运行结束后向外发布结果事件
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"malo-handover/pkg/config"
	"malo-handover/pkg/log"
)

// DefaultExchange 默认 topic exchange
const DefaultExchange = "malo.handover.events"

// RunFinished 运行结束事件
type RunFinished struct {
	RunID      string    `json:"run_id"`
	MaloID     string    `json:"malo_id"`
	Kind       string    `json:"kind"`
	State      string    `json:"state"`
	Outcome    string    `json:"outcome"`
	Unresolved []string  `json:"unresolved,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// RoutingKey 形如 run.handover.completed
func (e *RunFinished) RoutingKey() string {
	return fmt.Sprintf("run.%s.%s", e.Kind, e.State)
}

// Publisher 发布消息
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}

// PublishRunFinished 序列化并发布
func PublishRunFinished(ctx context.Context, p Publisher, ev *RunFinished) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.Publish(ctx, ev.RoutingKey(), body)
}

// NewPublisher 根据配置创建
func NewPublisher(cfg config.EventsConfig, logger *log.Logger) (Publisher, error) {
	if logger == nil {
		logger = log.Nop()
	}
	switch cfg.Type {
	case "", "noop":
		return NewNoopPublisher(logger), nil
	case "rabbitmq":
		if cfg.URL == "" {
			return nil, fmt.Errorf("events.type=rabbitmq 时 url 必填")
		}
		p, err := NewRabbitMQPublisher(cfg.URL, cfg.Exchange, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("不支持的 events 类型: %s", cfg.Type)
	}
}

// NoopPublisher 只记录日志
type NoopPublisher struct {
	logger *log.Logger
}

// NewNoopPublisher 创建空发布器
func NewNoopPublisher(logger *log.Logger) *NoopPublisher {
	return &NoopPublisher{logger: logger}
}

func (p *NoopPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	p.logger.Debug("noop publish", "routing_key", routingKey, "size", len(payload))
	return nil
}

func (p *NoopPublisher) Close() error { return nil }

// Message 已发布的消息
type Message struct {
	RoutingKey string
	Payload    []byte
}

// MemoryPublisher 把消息留在内存，供本地联调与测试读取
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []Message
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, Message{RoutingKey: routingKey, Payload: append([]byte(nil), payload...)})
	return nil
}

// Messages 已发布消息的副本
func (p *MemoryPublisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}

func (p *MemoryPublisher) Close() error { return nil }
