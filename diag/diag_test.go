package diag

import (
	"testing"

	"github.com/modbuscore/modbuscore/core"
)

func TestResetThenSnapshotIsZero(t *testing.T) {
	var c Counters
	c.IncFunctionCode(core.FuncReadHoldingRegisters)
	c.IncOutcome(core.OutcomeTimeout)
	c.Reset()
	if !c.Snapshot().IsZero() {
		t.Fatal("snapshot after reset should be all zero")
	}
}

func TestTraceWrapsAtCapacity(t *testing.T) {
	tr := NewTrace(3)
	for i := 0; i < 5; i++ {
		tr.Push(Event{TimestampMS: uint64(i)})
	}
	entries := tr.Entries()
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	want := []uint64{2, 3, 4}
	for i, e := range entries {
		if e.TimestampMS != want[i] {
			t.Fatalf("entry %d = %d, want %d", i, e.TimestampMS, want[i])
		}
	}
}

func TestRecorderForwardsToSink(t *testing.T) {
	var got []Event
	rec := NewRecorder(4, FuncSink(func(ev Event) { got = append(got, ev) }), true, true)
	rec.Emit(Event{Type: EventTxComplete, FunctionCode: core.FuncReadHoldingRegisters, Outcome: core.OutcomeOk})
	if len(got) != 1 {
		t.Fatalf("sink received %d events, want 1", len(got))
	}
	snap := rec.Counters.Snapshot()
	if snap.ByOutcome[core.OutcomeOk] != 1 {
		t.Fatalf("Ok counter = %d, want 1", snap.ByOutcome[core.OutcomeOk])
	}
}
