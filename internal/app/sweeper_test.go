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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"malo-handover/internal/coordination"
	"malo-handover/internal/runstore"
)

func TestSweeper_SweepOnce(t *testing.T) {
	ctx := context.Background()
	store := runstore.NewMemoryStore()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Create(ctx, &coordination.Snapshot{ID: "old", MaloID: "M1", Kind: "handover", StartedAt: now.Add(-time.Hour)}))
	require.NoError(t, store.Create(ctx, &coordination.Snapshot{ID: "new", MaloID: "M2", Kind: "handover", StartedAt: now}))

	var expired atomic.Int32
	w := coordination.NewWatcher(store, time.Minute, coordination.WithOnExpire(func(ctx context.Context, snap *coordination.Snapshot) {
		expired.Add(1)
	}))
	s := NewSweeper(w, time.Hour, nil)
	s.now = func() time.Time { return now }

	assert.Equal(t, 1, s.SweepOnce(ctx))
	assert.Equal(t, int32(1), expired.Load())

	old, err := store.Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, coordination.RunTimedOut, old.State)
	fresh, err := store.Get(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, coordination.RunInFlight, fresh.State)

	assert.Equal(t, 0, s.SweepOnce(ctx))
}

func TestSweeper_StartStop(t *testing.T) {
	ctx := context.Background()
	store := runstore.NewMemoryStore()
	require.NoError(t, store.Create(ctx, &coordination.Snapshot{ID: "r1", MaloID: "M1", StartedAt: time.Now().Add(-time.Hour)}))

	done := make(chan struct{}, 1)
	w := coordination.NewWatcher(store, time.Minute, coordination.WithOnExpire(func(ctx context.Context, snap *coordination.Snapshot) {
		done <- struct{}{}
	}))
	s := NewSweeper(w, 10*time.Millisecond, nil)
	s.Start(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not expire the stale run")
	}
	s.Stop()
	s.Stop()
}

func TestNewSweeper_DefaultInterval(t *testing.T) {
	s := NewSweeper(coordination.NewWatcher(runstore.NewMemoryStore(), 0), 0, nil)
	assert.Equal(t, DefaultSweepInterval, s.interval)
}
