package txn

import (
	"testing"

	"github.com/modbuscore/modbuscore/core"
	"github.com/modbuscore/modbuscore/pdu"
)

func testConfig() Config {
	return Config{
		HighCapacity:     4,
		NormalCapacity:   4,
		Policy:           StrictPriority,
		MaxRetries:       2,
		BackoffBaseMS:    10,
		BackoffMaxMS:     1000,
		JitterPct:        0,
		DefaultTimeout:   100,
		WatchdogMultiple: 2,
	}
}

func submitOne(t *testing.T, m *Manager, prio Priority) Handle {
	t.Helper()
	h, err := m.Submit(SubmitRequest{
		UnitID:       1,
		FunctionCode: core.FuncReadHoldingRegisters,
		RequestPDU:   pdu.PDU{FunctionCode: core.FuncReadHoldingRegisters},
		Priority:     prio,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return h
}

func TestPoolExhaustionReturnsBusy(t *testing.T) {
	now := uint64(0)
	m := NewManager(2, testConfig(), func() uint64 { return now })
	submitOne(t, m, Normal)
	submitOne(t, m, Normal)
	if _, err := m.Submit(SubmitRequest{UnitID: 1, FunctionCode: core.FuncReadHoldingRegisters, Priority: Normal}); err == nil {
		t.Fatal("expected Busy once pool is exhausted")
	}
}

func TestHighPriorityNeverStarvedBehindNormal(t *testing.T) {
	now := uint64(0)
	m := NewManager(8, testConfig(), func() uint64 { return now })
	submitOne(t, m, Normal)
	submitOne(t, m, Normal)
	highHandle := submitOne(t, m, High)

	next, ok := m.Next()
	if !ok {
		t.Fatal("expected a runnable transaction")
	}
	if next.Handle() != highHandle {
		t.Fatalf("expected High priority transaction to run first, got %+v", next.Handle())
	}
}

func TestDeadlineAwarePicksEarliestDeadline(t *testing.T) {
	now := uint64(0)
	cfg := testConfig()
	cfg.Policy = DeadlineAware
	m := NewManager(8, cfg, func() uint64 { return now })

	now = 0
	first := submitOne(t, m, Normal)
	now = 50
	second := submitOne(t, m, Normal)

	if t1, ok := m.Get(first); !ok || t1.DeadlineMS != 100 {
		t.Fatalf("unexpected first deadline: %+v ok=%v", t1, ok)
	}

	next, ok := m.Next()
	if !ok {
		t.Fatal("expected a runnable transaction")
	}
	if next.Handle() != first {
		t.Fatalf("expected earlier-deadline transaction to run first, got %+v want %+v", next.Handle(), first)
	}
	_ = second
}

func TestCancellationOfEnqueuedTransactionIsImmediate(t *testing.T) {
	now := uint64(0)
	m := NewManager(4, testConfig(), func() uint64 { return now })
	h := submitOne(t, m, Normal)

	m.Cancel(h)

	tx, ok := m.Get(h)
	if !ok {
		t.Fatal("cancelled transaction should still be resolvable until released")
	}
	if !tx.IsTerminal() || tx.Outcome != core.OutcomeCancelled {
		t.Fatalf("expected terminal Cancelled outcome, got state=%v outcome=%v", tx.State, tx.Outcome)
	}
	if m.NormalQueueLen() != 0 {
		t.Fatalf("cancelled transaction should be removed from queue, len=%d", m.NormalQueueLen())
	}
}

func TestWatchdogFiresAfterKTimesTimeout(t *testing.T) {
	now := uint64(0)
	m := NewManager(4, testConfig(), func() uint64 { return now })
	h := submitOne(t, m, Normal)
	tx, _ := m.Get(h)
	tx.State = AwaitingResponse

	now = 150
	if m.CheckWatchdog(tx) {
		t.Fatal("watchdog should not fire before 2x timeout has elapsed")
	}
	now = 250
	if !m.CheckWatchdog(tx) {
		t.Fatal("watchdog should fire once 2x timeout has elapsed")
	}
	if !tx.IsTerminal() || tx.Outcome != core.OutcomeAborted {
		t.Fatalf("expected Aborted outcome, got %v", tx.Outcome)
	}
	if m.FaultCount() != 1 {
		t.Fatalf("expected one fault counted, got %d", m.FaultCount())
	}
}

func TestRetryOrTerminateExhaustsAttemptsThenTerminates(t *testing.T) {
	now := uint64(0)
	m := NewManager(4, testConfig(), func() uint64 { return now })
	h := submitOne(t, m, Normal)
	tx, _ := m.Get(h)

	if !m.RetryOrTerminate(tx, core.OutcomeTimeout) {
		t.Fatal("expected first retry to be granted (MaxRetries=2)")
	}
	if !m.RetryOrTerminate(tx, core.OutcomeTimeout) {
		t.Fatal("expected second retry to be granted")
	}
	if m.RetryOrTerminate(tx, core.OutcomeTimeout) {
		t.Fatal("expected attempts exhausted on third failure")
	}
	if !tx.IsTerminal() || tx.Outcome != core.OutcomeTimeout {
		t.Fatalf("expected terminal Timeout outcome, got state=%v outcome=%v", tx.State, tx.Outcome)
	}
}

func TestFlushTerminatesAllQueuedTransactions(t *testing.T) {
	now := uint64(0)
	m := NewManager(8, testConfig(), func() uint64 { return now })
	a := submitOne(t, m, Normal)
	b := submitOne(t, m, High)

	m.Flush()

	for _, h := range []Handle{a, b} {
		tx, ok := m.Get(h)
		if !ok || !tx.IsTerminal() || tx.Outcome != core.OutcomeCancelled {
			t.Fatalf("expected flush to cancel %+v, got %+v ok=%v", h, tx, ok)
		}
	}
	if m.HighQueueLen() != 0 || m.NormalQueueLen() != 0 {
		t.Fatal("queues should be empty after flush")
	}
}

func TestReleaseReturnsSlotAndInvalidatesHandle(t *testing.T) {
	now := uint64(0)
	m := NewManager(1, testConfig(), func() uint64 { return now })
	h := submitOne(t, m, Normal)
	tx, _ := m.Get(h)
	m.Complete(tx, core.OutcomeOk)
	m.Release(h)

	if _, ok := m.Get(h); ok {
		t.Fatal("released handle should no longer resolve")
	}
	if m.PoolInUse() != 0 {
		t.Fatalf("expected pool slot freed, InUse=%d", m.PoolInUse())
	}
	// Slot should be reusable immediately (bounded pool, no leak).
	submitOne(t, m, Normal)
	if m.PoolInUse() != 1 {
		t.Fatalf("expected reacquired slot, InUse=%d", m.PoolInUse())
	}
}
