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

package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"malo-handover/pkg/config"
	"malo-handover/pkg/log"
)

func TestPublishRunFinished(t *testing.T) {
	p := NewMemoryPublisher()
	ev := &RunFinished{
		RunID:      "r1",
		MaloID:     "M1",
		Kind:       "handover",
		State:      "timed_out",
		Outcome:    "partially_failed",
		Unresolved: []string{"S2"},
		FinishedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, PublishRunFinished(context.Background(), p, ev))

	msgs := p.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "run.handover.timed_out", msgs[0].RoutingKey)
	var got RunFinished
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &got))
	assert.Equal(t, *ev, got)
}

func TestNewPublisher(t *testing.T) {
	p, err := NewPublisher(config.EventsConfig{}, nil)
	require.NoError(t, err)
	assert.NoError(t, p.Publish(context.Background(), "x", nil))
	assert.NoError(t, p.Close())

	_, err = NewPublisher(config.EventsConfig{Type: "rabbitmq"}, nil)
	assert.Error(t, err)
	_, err = NewPublisher(config.EventsConfig{Type: "kafka"}, nil)
	assert.Error(t, err)
}

func TestRabbitMQPublisher_Integration(t *testing.T) {
	url := os.Getenv("TEST_RABBITMQ_URL")
	if url == "" {
		t.Skip("TEST_RABBITMQ_URL not set, skipping RabbitMQ integration test")
	}
	p, err := NewRabbitMQPublisher(url, "", log.Nop())
	require.NoError(t, err)
	defer p.Close()
	assert.NoError(t, p.Publish(context.Background(), "run.handover.completed", []byte(`{}`)))
}
