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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"malo-handover/internal/coordination"
	"malo-handover/internal/malo"
	"malo-handover/pkg/errors"
)

func resolvedResult(state coordination.RunState, responses map[int]string) *coordination.Result {
	res := &coordination.Result{Run: coordination.RunRef{ID: "r1", MaloID: "M1", Kind: KindHandover}, State: state}
	for i, name := range []string{"S1", "S2"} {
		t := &coordination.Ticket{
			CorrelationKey: coordination.CorrelationKey("M1", name, 0),
			Target:         coordination.Target{Counterparty: name, SegmentIndex: i},
			State:          coordination.TicketUnresolved,
		}
		if body, ok := responses[i]; ok {
			t.State = coordination.TicketResolved
			t.Response = []byte(body)
		}
		res.Tickets = append(res.Tickets, t)
	}
	return res
}

func TestMergeEndDates_Completed(t *testing.T) {
	rec := sampleRecord()
	res := resolvedResult(coordination.RunCompleted, map[int]string{
		0: `{"end_date":"2024-04-30"}`,
		1: `{"end_date":"2024-04-30"}`,
	})
	out, err := MergeEndDates(rec, res)
	require.NoError(t, err)
	assert.Equal(t, "2024-04-30", out.Segments[0].End.String())
	assert.Equal(t, "2024-04-30", out.Segments[1].End.String())
	assert.True(t, out.Segments[1].Void())
	// 原记录不变
	assert.Equal(t, "2024-06-30", rec.Segments[0].End.String())
	assert.Equal(t, "2024-12-31", rec.Segments[1].End.String())

	// 对合并结果再次合并不产生变化
	again, err := MergeEndDates(out, res)
	require.NoError(t, err)
	assert.Equal(t, out, again)
	assert.NotSame(t, out, again)
}

func TestMergeEndDates_Incomplete(t *testing.T) {
	rec := sampleRecord()
	res := resolvedResult(coordination.RunTimedOut, map[int]string{0: `{"end_date":"2024-04-30"}`})
	out, err := MergeEndDates(rec, res)
	assert.Same(t, rec, out)
	assert.True(t, errors.Is(err, errors.ErrHandoverIncomplete))
	assert.Equal(t, []string{"S2"}, errors.UnresolvedOf(err))
}

func TestMergeEndDates_BadResponse(t *testing.T) {
	rec := sampleRecord()
	res := resolvedResult(coordination.RunCompleted, map[int]string{
		0: `{"end_date":"2024-04-30"}`,
		1: `{}`,
	})
	out, err := MergeEndDates(rec, res)
	assert.Same(t, rec, out)
	assert.True(t, errors.Is(err, errors.ErrTransport))
	assert.False(t, errors.Is(err, errors.ErrInvalidInput))
	var me *MergeError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "S2", me.Counterparty)
	assert.Equal(t, "M1_S2_0", me.CorrelationKey)
}

func TestMerge_SegmentOutOfRange(t *testing.T) {
	rec := &malo.Record{ID: "M1", Segments: []malo.Segment{seg("S1", "2024-01-01", "2024-06-30")}}
	res := resolvedResult(coordination.RunCompleted, map[int]string{0: `{}`, 1: `{}`})
	_, err := Merge(rec, res, func(*malo.Segment, []byte) error { return nil })
	assert.True(t, errors.Is(err, errors.ErrTransport))
	var me *MergeError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "S2", me.Counterparty)
}

func TestMergeContractRefs(t *testing.T) {
	rec := sampleRecord()
	res := resolvedResult(coordination.RunCompleted, map[int]string{
		0: `{"contract_ref":"agreement-1"}`,
		1: `{"contract_ref":"agreement-2"}`,
	})
	out, err := MergeContractRefs(rec, res)
	require.NoError(t, err)
	assert.Equal(t, "agreement-1", out.Segments[0].ContractRef)
	assert.Equal(t, "agreement-2", out.Segments[1].ContractRef)
	assert.Equal(t, "contract-S1", rec.Segments[0].ContractRef)

	res.Tickets[1].Response = []byte(`{"contract_ref":""}`)
	_, err = MergeContractRefs(rec, res)
	assert.True(t, errors.Is(err, errors.ErrTransport))
}

func TestOutcomeOf(t *testing.T) {
	o := OutcomeOf(resolvedResult(coordination.RunCompleted, nil))
	assert.Equal(t, OutcomeCompleted, o.Kind)
	assert.Empty(t, o.Unresolved)

	o = OutcomeOf(resolvedResult(coordination.RunTimedOut, map[int]string{0: `{}`}))
	assert.Equal(t, OutcomePartiallyFailed, o.Kind)
	assert.Equal(t, []string{"S2"}, o.Unresolved)

	o = OutcomeOf(resolvedResult(coordination.RunFailed, nil))
	assert.Equal(t, OutcomeTransportFailed, o.Kind)
	assert.Equal(t, []string{"S1", "S2"}, o.Unresolved)
	assert.Equal(t, "r1", o.RunID)
}
