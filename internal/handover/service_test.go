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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"malo-handover/internal/coordination"
	"malo-handover/internal/events"
	"malo-handover/internal/lock"
	"malo-handover/internal/malo"
	"malo-handover/internal/negotiation"
	"malo-handover/internal/runstore"
	"malo-handover/internal/storage/object"
	"malo-handover/internal/supplier"
	"malo-handover/internal/transfer"
	"malo-handover/pkg/errors"
)

type harness struct {
	svc       *Service
	store     *object.MemoryStore
	responder *supplier.Responder
	records   *malo.Repository
	runs      *runstore.MemoryStore
	locker    *lock.MemoryLocker
	events    *events.MemoryPublisher
}

// newHarness 终止请求经进程内供应商应答器处理，响应写入同一个内存对象存储
func newHarness(t *testing.T, negotiator negotiation.API) *harness {
	return newHarnessAt(t, negotiator, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC), nil)
}

// newHarnessAt 供应商时钟固定为 today；ch 非空时替代环回通道
func newHarnessAt(t *testing.T, negotiator negotiation.API, today time.Time, ch coordination.Channel) *harness {
	t.Helper()
	store := object.NewMemoryStore()
	responder := supplier.NewResponder(store, "", supplier.WithClock(func() time.Time { return today }))
	h := &harness{
		store:     store,
		responder: responder,
		records:   malo.NewRepository(store, ""),
		runs:      runstore.NewMemoryStore(),
		locker:    lock.NewMemoryLocker(),
		events:    events.NewMemoryPublisher(),
	}
	if ch == nil {
		ch = transfer.NewObjectChannel(transfer.NewLoopbackDispatcher(responder, nil), store, "", nil)
	}
	deps := Deps{
		HandoverChannel: ch,
		Engine:          coordination.Options{PollInterval: 10 * time.Millisecond},
		Records:         h.records,
		Runs:            h.runs,
		Locker:          h.locker,
		Publisher:       h.events,
	}
	if negotiator != nil {
		deps.OnboardingChannel = negotiation.NewChannel(negotiator, negotiation.ChannelOptions{PollTimeout: time.Second})
	}
	h.svc = NewService(deps)
	return h
}

func (h *harness) contract(t *testing.T, name, cycle string) {
	t.Helper()
	require.NoError(t, h.responder.PutContract(context.Background(), supplier.Contract{
		MaloID:      "M1",
		Supplier:    name,
		ContractEnd: malo.MustDate("2024-12-31"),
		CyclePeriod: cycle,
	}))
}

func TestCoordinateHandover_AllAgree(t *testing.T) {
	h := newHarness(t, nil)
	h.contract(t, "S1", supplier.CycleMonthly)
	h.contract(t, "S2", supplier.CycleMonthly)
	rec := sampleRecord()

	out, outcome, err := h.svc.CoordinateHandover(context.Background(), rec,
		malo.MustDate("2024-05-01"), malo.MustDate("2025-04-30"), time.Now().Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome.Kind)
	assert.NotEmpty(t, outcome.RunID)
	assert.Equal(t, "2024-04-30", out.Segments[0].End.String())
	assert.Equal(t, "2024-04-30", out.Segments[1].End.String())
	assert.Equal(t, "2024-06-30", rec.Segments[0].End.String())

	c, err := h.responder.GetContract(context.Background(), "M1", "S2")
	require.NoError(t, err)
	assert.Equal(t, "2024-04-30", c.ContractEnd.String())

	snap, err := h.svc.GetRun(context.Background(), outcome.RunID)
	require.NoError(t, err)
	assert.Equal(t, coordination.RunCompleted, snap.State)

	// 运行容器在结束后被清空
	objs, err := h.store.List(context.Background(), transfer.ResponseContainer(outcome.RunID))
	require.NoError(t, err)
	assert.Empty(t, objs)

	msgs := h.events.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "run.handover.completed", msgs[0].RoutingKey)
}

func TestCoordinateHandover_OneSupplierSilent(t *testing.T) {
	h := newHarness(t, nil)
	h.contract(t, "S1", supplier.CycleMonthly)
	// 年度合同在当年内不可终止，S2 不会写回响应
	h.contract(t, "S2", supplier.CycleYearly)
	rec := sampleRecord()

	out, outcome, err := h.svc.CoordinateHandover(context.Background(), rec,
		malo.MustDate("2024-05-01"), malo.MustDate("2025-04-30"), time.Now().Add(150*time.Millisecond))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrHandoverIncomplete))
	assert.Equal(t, []string{"S2"}, errors.UnresolvedOf(err))
	assert.Equal(t, OutcomePartiallyFailed, outcome.Kind)
	assert.Equal(t, []string{"S2"}, outcome.Unresolved)
	assert.Same(t, rec, out)
	assert.Equal(t, "2024-06-30", out.Segments[0].End.String())

	var ev events.RunFinished
	msgs := h.events.Messages()
	require.Len(t, msgs, 1)
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &ev))
	assert.Equal(t, "partially_failed", ev.Outcome)
	assert.Equal(t, []string{"S2"}, ev.Unresolved)
}

func TestCoordinateHandover_EndOnLastDayOfMonth(t *testing.T) {
	// 5 月中旬请求 6 月 1 日换供，月度合同可在 5 月 31 日结束
	h := newHarnessAt(t, nil, time.Date(2024, 5, 15, 9, 0, 0, 0, time.UTC), nil)
	h.contract(t, "S1", supplier.CycleMonthly)
	h.contract(t, "S2", supplier.CycleMonthly)
	rec := sampleRecord()

	out, outcome, err := h.svc.CoordinateHandover(context.Background(), rec,
		malo.MustDate("2024-06-01"), malo.MustDate("2025-05-31"), time.Now().Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome.Kind)
	assert.Equal(t, "2024-05-31", out.Segments[0].End.String())
	assert.Equal(t, "2024-05-31", out.Segments[1].End.String())

	c, err := h.responder.GetContract(context.Background(), "M1", "S1")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-31", c.ContractEnd.String())
}

// cannedChannel 下发即成功，按关联键立即返回预置响应
type cannedChannel struct {
	responses map[string]string
}

func (c cannedChannel) Issue(context.Context, coordination.RunRef, *coordination.Ticket, []byte) error {
	return nil
}

func (c cannedChannel) Poll(_ context.Context, _ coordination.RunRef, key string) ([]byte, bool) {
	body, ok := c.responses[key]
	return []byte(body), ok
}

func TestCoordinateHandover_UnreadableResponseFailsRun(t *testing.T) {
	ch := cannedChannel{responses: map[string]string{
		coordination.CorrelationKey("M1", "S1", 0): `{"end_date":"2024-04-30"}`,
		coordination.CorrelationKey("M1", "S2", 0): `{"end_date":"not-a-date"}`,
	}}
	h := newHarnessAt(t, nil, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC), ch)
	ctx := context.Background()
	require.NoError(t, h.records.Save(ctx, sampleRecord()))

	out, outcome, err := h.svc.HandoverByID(ctx, "M1", malo.MustDate("2024-05-01"), malo.MustDate("2025-04-30"), time.Now().Add(2*time.Second))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTransport))
	assert.False(t, errors.Is(err, errors.ErrInvalidInput))
	var me *MergeError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "S2", me.Counterparty)

	assert.Equal(t, OutcomePartiallyFailed, outcome.Kind)
	assert.Equal(t, coordination.RunFailed, outcome.State)
	assert.Equal(t, []string{"S2"}, outcome.Unresolved)
	assert.Equal(t, "2024-06-30", out.Segments[0].End.String())

	snap, err := h.svc.GetRun(ctx, outcome.RunID)
	require.NoError(t, err)
	assert.Equal(t, coordination.RunFailed, snap.State)
	assert.Equal(t, []string{"S2"}, snap.Unresolved)
	assert.Contains(t, snap.Reason, "S2")

	var ev events.RunFinished
	msgs := h.events.Messages()
	require.Len(t, msgs, 1)
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &ev))
	assert.Equal(t, "partially_failed", ev.Outcome)
	assert.Equal(t, string(coordination.RunFailed), ev.State)

	// 记录未被写回
	stored, err := h.records.Load(ctx, "M1")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-30", stored.Segments[0].End.String())
}

func TestCoordinateHandover_NoConflict(t *testing.T) {
	h := newHarness(t, nil)
	rec := sampleRecord()
	out, outcome, err := h.svc.CoordinateHandover(context.Background(), rec,
		malo.MustDate("2025-01-01"), malo.MustDate("2025-12-31"), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome.Kind)
	assert.Empty(t, outcome.RunID)
	assert.Same(t, rec, out)

	inflight, _ := h.runs.ListInFlight(context.Background(), 0)
	runs, _ := h.runs.ListByMalo(context.Background(), "M1", 0)
	assert.Empty(t, inflight)
	assert.Empty(t, runs)
	assert.Empty(t, h.events.Messages())
}

func TestCoordinateHandover_InvalidRequest(t *testing.T) {
	h := newHarness(t, nil)
	_, _, err := h.svc.CoordinateHandover(context.Background(), sampleRecord(),
		malo.MustDate("2024-05-01"), malo.MustDate("2024-04-01"), time.Time{})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	bad := sampleRecord()
	bad.Segments[0].End = malo.MustDate("2023-12-31")
	_, _, err = h.svc.CoordinateHandover(context.Background(), bad,
		malo.MustDate("2024-05-01"), malo.MustDate("2024-06-01"), time.Time{})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestHandoverByID_PersistsMergedRecord(t *testing.T) {
	h := newHarness(t, nil)
	h.contract(t, "S1", supplier.CycleMonthly)
	h.contract(t, "S2", supplier.CycleMonthly)
	ctx := context.Background()
	require.NoError(t, h.records.Save(ctx, sampleRecord()))

	_, outcome, err := h.svc.HandoverByID(ctx, "M1", malo.MustDate("2024-05-01"), malo.MustDate("2025-04-30"), time.Now().Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome.Kind)

	stored, err := h.records.Load(ctx, "M1")
	require.NoError(t, err)
	assert.Equal(t, "2024-04-30", stored.Segments[0].End.String())
	assert.Equal(t, "2024-04-30", stored.Segments[1].End.String())

	runs, err := h.svc.ListRuns(ctx, "M1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, outcome.RunID, runs[0].ID)

	// 锁已释放
	release, err := h.locker.Acquire(ctx, "M1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestHandoverByID_IncompleteKeepsStoredRecord(t *testing.T) {
	h := newHarness(t, nil)
	h.contract(t, "S1", supplier.CycleMonthly)
	ctx := context.Background()
	require.NoError(t, h.records.Save(ctx, sampleRecord()))

	_, outcome, err := h.svc.HandoverByID(ctx, "M1", malo.MustDate("2024-05-01"), malo.MustDate("2025-04-30"), time.Now().Add(100*time.Millisecond))
	assert.True(t, errors.Is(err, errors.ErrHandoverIncomplete))
	assert.Equal(t, OutcomePartiallyFailed, outcome.Kind)

	stored, err := h.records.Load(ctx, "M1")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-30", stored.Segments[0].End.String())
}

func TestHandoverByID_Errors(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, _, err := h.svc.HandoverByID(ctx, "missing", malo.MustDate("2024-05-01"), malo.MustDate("2024-06-01"), time.Time{})
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	require.NoError(t, h.records.Save(ctx, sampleRecord()))
	release, err := h.locker.Acquire(ctx, "M1", time.Minute)
	require.NoError(t, err)
	defer release(ctx)
	_, _, err = h.svc.HandoverByID(ctx, "M1", malo.MustDate("2024-05-01"), malo.MustDate("2024-06-01"), time.Time{})
	assert.True(t, errors.Is(err, errors.ErrLocked))
}

// waitInFlight 等待运行登记
func waitInFlight(t *testing.T, runs runstore.Store) *coordination.Snapshot {
	t.Helper()
	for i := 0; i < 200; i++ {
		list, err := runs.ListInFlight(context.Background(), 1)
		require.NoError(t, err)
		if len(list) == 1 {
			return list[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run never became in flight")
	return nil
}

func TestCancel_EndsRunEarly(t *testing.T) {
	h := newHarness(t, nil)
	rec := sampleRecord()

	var (
		wg      sync.WaitGroup
		outcome Outcome
		err     error
	)
	start := time.Now()
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, outcome, err = h.svc.CoordinateHandover(context.Background(), rec,
			malo.MustDate("2024-05-01"), malo.MustDate("2025-04-30"), time.Now().Add(10*time.Second))
	}()
	snap := waitInFlight(t, h.runs)
	require.NoError(t, h.svc.Cancel(context.Background(), snap.ID))
	wg.Wait()

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, errors.Is(err, errors.ErrHandoverIncomplete))
	assert.Equal(t, []string{"S1", "S2"}, outcome.Unresolved)

	// 已结束的运行不能再取消
	assert.True(t, errors.Is(h.svc.Cancel(context.Background(), snap.ID), errors.ErrInvalidInput))
	assert.True(t, errors.Is(h.svc.Cancel(context.Background(), "nope"), errors.ErrNotFound))
}

func TestWatcherExpiry_AbortsRun(t *testing.T) {
	h := newHarness(t, nil)
	rec := sampleRecord()
	watcher := coordination.NewWatcher(h.runs, time.Millisecond, coordination.WithOnExpire(h.svc.OnExpire))

	var (
		wg  sync.WaitGroup
		out *malo.Record
		err error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		out, _, err = h.svc.CoordinateHandover(context.Background(), rec,
			malo.MustDate("2024-05-01"), malo.MustDate("2025-04-30"), time.Now().Add(10*time.Second))
	}()
	waitInFlight(t, h.runs)
	n, sweepErr := watcher.Sweep(context.Background(), time.Now().Add(time.Minute))
	require.NoError(t, sweepErr)
	require.Equal(t, 1, n)
	wg.Wait()

	assert.True(t, errors.Is(err, errors.ErrRunExpired))
	assert.Same(t, rec, out)

	msgs := h.events.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "run.handover.timed_out", msgs[0].RoutingKey)
}

func TestClampDeadline(t *testing.T) {
	h := newHarness(t, nil)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(DefaultDeadline), h.svc.clampDeadline(now, time.Time{}))
	assert.Equal(t, now.Add(coordination.DefaultMaxLifetime), h.svc.clampDeadline(now, now.Add(time.Hour)))
	assert.Equal(t, now.Add(time.Minute), h.svc.clampDeadline(now, now.Add(time.Minute)))
}

func TestNewService_LockOutlivesRun(t *testing.T) {
	svc := NewService(Deps{MaxLifetime: 20 * time.Minute, LockTTL: 5 * time.Minute})
	assert.Greater(t, svc.lockTTL, 20*time.Minute)

	// 默认值下锁有效期已长于运行存活时间
	svc = NewService(Deps{})
	assert.Equal(t, lock.DefaultTTL, svc.lockTTL)
	assert.Greater(t, svc.lockTTL, svc.maxLifetime)

	svc = NewService(Deps{MaxLifetime: time.Minute, LockTTL: 3 * time.Minute})
	assert.Equal(t, 3*time.Minute, svc.lockTTL)
}

// fakeNegotiator 每个资产一条报价，协商立即签约
type fakeNegotiator struct {
	mu      sync.Mutex
	offers  map[string]int
	agreed  bool
	started []negotiation.NegotiationRequest
}

func (f *fakeNegotiator) LookupCatalog(ctx context.Context, q negotiation.CatalogQuery) ([]negotiation.Offer, error) {
	n, ok := f.offers[q.Filter["name"]]
	if !ok {
		n = 1
	}
	out := make([]negotiation.Offer, n)
	for i := range out {
		out[i] = negotiation.Offer{ID: "offer-" + q.Filter["name"], AssetID: q.Filter["name"]}
	}
	return out, nil
}

func (f *fakeNegotiator) Negotiate(ctx context.Context, req negotiation.NegotiationRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, req)
	return "neg-" + req.AssetID, nil
}

func (f *fakeNegotiator) FindNegotiation(ctx context.Context, id string) (*negotiation.Negotiation, error) {
	if !f.agreed {
		return &negotiation.Negotiation{ID: id, State: "REQUESTED"}, nil
	}
	return &negotiation.Negotiation{ID: id, State: negotiation.StateFinalized, ContractAgreementID: "agreement-" + id}, nil
}

func onboardingRecord() *malo.Record {
	s3 := seg("S3", "2025-01-01", "2025-12-31")
	s3.ContractRef = ""
	return &malo.Record{ID: "M1", Segments: []malo.Segment{seg("S1", "2024-01-01", "2024-12-31"), s3}}
}

func TestCoordinateOnboarding_Completed(t *testing.T) {
	neg := &fakeNegotiator{agreed: true}
	h := newHarness(t, neg)
	rec := onboardingRecord()

	out, outcome, err := h.svc.CoordinateOnboarding(context.Background(), rec, malo.Supplier{Name: "S3"}, time.Now().Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome.Kind)
	assert.Equal(t, "agreement-neg-MaLo_M1_S3", out.Segments[1].ContractRef)
	assert.Equal(t, "contract-S1", out.Segments[0].ContractRef)
	require.NotNil(t, out.Current)
	assert.Equal(t, "S3", out.Current.Name)
	assert.Equal(t, "agreement-neg-MaLo_M1_S3", out.Current.ContractRef)
	assert.Nil(t, rec.Current)
	require.Len(t, neg.started, 1)
	assert.Equal(t, "http://S3/api/v1/ids/data", neg.started[0].ConnectorAddress)
}

func TestCoordinateOnboarding_NotAgreed(t *testing.T) {
	h := newHarness(t, &fakeNegotiator{})
	rec := onboardingRecord()
	out, outcome, err := h.svc.CoordinateOnboarding(context.Background(), rec, malo.Supplier{Name: "S3"}, time.Now().Add(80*time.Millisecond))
	assert.True(t, errors.Is(err, errors.ErrHandoverIncomplete))
	assert.Equal(t, OutcomePartiallyFailed, outcome.Kind)
	assert.Same(t, rec, out)
}

func TestCoordinateOnboarding_AmbiguousCatalog(t *testing.T) {
	h := newHarness(t, &fakeNegotiator{agreed: true, offers: map[string]int{"MaLo_M1_S3": 2}})
	_, outcome, err := h.svc.CoordinateOnboarding(context.Background(), onboardingRecord(), malo.Supplier{Name: "S3"}, time.Now().Add(time.Second))
	assert.True(t, errors.Is(err, errors.ErrHandoverIncomplete))
	assert.Equal(t, OutcomeTransportFailed, outcome.Kind)
}

func TestCoordinateOnboarding_Trivial(t *testing.T) {
	h := newHarness(t, &fakeNegotiator{agreed: true})
	rec := onboardingRecord()

	_, _, err := h.svc.CoordinateOnboarding(context.Background(), rec, malo.Supplier{Name: "S9"}, time.Time{})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	out, outcome, err := h.svc.CoordinateOnboarding(context.Background(), rec, malo.Supplier{Name: "S1"}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome.Kind)
	assert.Empty(t, outcome.RunID)
	assert.Same(t, rec, out)
}

func TestCoordinateOnboarding_Disabled(t *testing.T) {
	h := newHarness(t, nil)
	_, _, err := h.svc.CoordinateOnboarding(context.Background(), onboardingRecord(), malo.Supplier{Name: "S3"}, time.Time{})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}
