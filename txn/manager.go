package txn

import (
	"math/rand"

	"github.com/modbuscore/modbuscore/core"
	"github.com/modbuscore/modbuscore/pdu"
)

// QoSPolicy selects how the Manager picks the next transaction to run
// (spec §3's QoS configuration, §4.3's scheduling policy).
type QoSPolicy uint8

const (
	// StrictPriority always drains High before Normal.
	StrictPriority QoSPolicy = iota
	// DeadlineAware is earliest-deadline-first within each priority;
	// High still always precedes Normal.
	DeadlineAware
)

// Config is the Manager's QoS/retry/timeout configuration (spec §6).
type Config struct {
	HighCapacity    int
	NormalCapacity  int
	Policy          QoSPolicy
	MaxRetries      uint8
	BackoffBaseMS   uint64
	BackoffMaxMS    uint64
	JitterPct       int
	DefaultTimeout  uint64
	PerFCTimeoutOverrides map[core.FunctionCode]uint64
	WatchdogMultiple uint64 // K in spec §4.3's watchdog (typically 2)
}

// SubmitRequest is everything the caller must supply to submit() a new
// transaction (spec §4.3).
type SubmitRequest struct {
	UnitID           uint8
	FunctionCode     core.FunctionCode
	RequestPDU       pdu.PDU
	TransactionIDTCP uint16
	Priority         Priority
}

// Manager is the client-side transaction manager: submit/cancel/flush,
// priority-aware scheduling, retry/backoff, and the watchdog (spec
// §4.3). It owns a Pool and never blocks.
type Manager struct {
	pool   *Pool
	config Config
	nowMS  func() uint64
	rng    *rand.Rand

	highQueue   []Handle
	normalQueue []Handle

	faultCount uint64
}

// NewManager constructs a Manager. nowMS supplies the clock (spec §6's
// Clock contract); poolCapacity sizes the fixed transaction pool.
func NewManager(poolCapacity int, config Config, nowMS func() uint64) *Manager {
	return &Manager{
		pool:   NewPool(poolCapacity),
		config: config,
		nowMS:  nowMS,
		rng:    rand.New(rand.NewSource(1)),
	}
}

func (m *Manager) timeoutFor(fc core.FunctionCode) uint64 {
	if m.config.PerFCTimeoutOverrides != nil {
		if t, ok := m.config.PerFCTimeoutOverrides[fc]; ok {
			return t
		}
	}
	return m.config.DefaultTimeout
}

// Submit records the submission and places the transaction into its
// priority queue. It returns Busy when the target queue is full and the
// policy forbids displacing existing entries (spec §4.3's submit
// contract); High-priority submissions are only rejected when the High
// queue itself is full (spec §3, testable property 8).
func (m *Manager) Submit(req SubmitRequest) (Handle, error) {
	var queue *[]Handle
	var capacity int
	switch req.Priority {
	case High:
		queue, capacity = &m.highQueue, m.config.HighCapacity
	default:
		queue, capacity = &m.normalQueue, m.config.NormalCapacity
	}
	if len(*queue) >= capacity {
		return Handle{}, core.NewLocalError(req.FunctionCode, core.OutcomeBusy, "queue at capacity")
	}

	txnTmpl, handle, ok := m.pool.Acquire()
	if !ok {
		return Handle{}, core.NewLocalError(req.FunctionCode, core.OutcomeBusy, "transaction pool exhausted")
	}
	now := m.nowMS()
	txnTmpl.UnitID = req.UnitID
	txnTmpl.FunctionCode = req.FunctionCode
	txnTmpl.RequestPDU = req.RequestPDU
	txnTmpl.TransactionIDTCP = req.TransactionIDTCP
	txnTmpl.Priority = req.Priority
	txnTmpl.SubmittedAtMS = now
	txnTmpl.SubStateEnteredMS = now
	txnTmpl.DeadlineMS = now + m.timeoutFor(req.FunctionCode)
	txnTmpl.MaxAttempts = m.config.MaxRetries + 1
	txnTmpl.AttemptsLeft = txnTmpl.MaxAttempts
	txnTmpl.State = Enqueued

	*queue = append(*queue, handle)
	return handle, nil
}

// Next selects and dequeues the next transaction to run, per the
// configured QoSPolicy (spec §4.3). ok is false if both queues are
// empty.
func (m *Manager) Next() (*Transaction, bool) {
	if h, ok := m.dequeue(&m.highQueue); ok {
		if t, ok := m.pool.Get(h); ok {
			return t, true
		}
	}
	if h, ok := m.dequeue(&m.normalQueue); ok {
		if t, ok := m.pool.Get(h); ok {
			return t, true
		}
	}
	return nil, false
}

func (m *Manager) dequeue(queue *[]Handle) (Handle, bool) {
	if len(*queue) == 0 {
		return Handle{}, false
	}
	if m.config.Policy == StrictPriority {
		h := (*queue)[0]
		*queue = (*queue)[1:]
		return h, true
	}
	// DeadlineAware: earliest-deadline-first within this queue.
	best := 0
	var bestDeadline uint64
	for i, h := range *queue {
		t, ok := m.pool.Get(h)
		if !ok {
			continue
		}
		if i == 0 || t.DeadlineMS < bestDeadline {
			best, bestDeadline = i, t.DeadlineMS
		}
	}
	h := (*queue)[best]
	*queue = append((*queue)[:best], (*queue)[best+1:]...)
	return h, true
}

// Get resolves a handle to its transaction.
func (m *Manager) Get(h Handle) (*Transaction, bool) { return m.pool.Get(h) }

// Complete terminates a transaction with outcome. It does not release
// the pool slot, so ResponsePDU/Outcome stay readable; callers call
// Release once they are done with the transaction.
func (m *Manager) Complete(t *Transaction, outcome core.OutcomeSlot) {
	t.State = Terminal
	t.Outcome = outcome
}

// Release returns a completed transaction's slot to the pool.
func (m *Manager) Release(h Handle) { m.pool.Release(h) }

// Cancel marks a transaction cancelled. If it is still enqueued, it is
// removed immediately and terminated; if in-flight, the FSM observes
// the cancelled flag at its next suspension point (spec §4.3).
func (m *Manager) Cancel(h Handle) {
	t, ok := m.pool.Get(h)
	if !ok || t.IsTerminal() {
		return
	}
	t.cancelled = true
	if t.State == Enqueued {
		m.removeFromQueues(h)
		m.Complete(t, core.OutcomeCancelled)
	}
}

func (m *Manager) removeFromQueues(h Handle) {
	for _, queue := range []*[]Handle{&m.highQueue, &m.normalQueue} {
		for i, qh := range *queue {
			if qh == h {
				*queue = append((*queue)[:i], (*queue)[i+1:]...)
				break
			}
		}
	}
}

// Flush (poison flush) terminates every queued transaction with
// Cancelled; used on shutdown and deadlock recovery (spec §4.3).
func (m *Manager) Flush() {
	for _, queue := range []*[]Handle{&m.highQueue, &m.normalQueue} {
		pending := *queue
		*queue = nil
		for _, h := range pending {
			if t, ok := m.pool.Get(h); ok {
				t.cancelled = true
				m.Complete(t, core.OutcomeCancelled)
			}
		}
	}
}

// RetryOrTerminate is called by the client FSM when a transaction times
// out or hits a transient I/O error. It decrements AttemptsLeft; if
// attempts remain, it requeues the transaction and returns true (the
// transaction will run again); otherwise it terminates with the given
// terminal outcome and returns false (spec §4.3's retry/backoff).
// The exponential backoff plus jitter is added to the new deadline
// only: Next does not hold a requeued transaction back, so it can be
// dispatched again immediately.
func (m *Manager) RetryOrTerminate(t *Transaction, terminalOutcome core.OutcomeSlot) (retrying bool) {
	if t.AttemptsLeft > 0 {
		t.AttemptsLeft--
	}
	if t.AttemptsLeft == 0 {
		m.Complete(t, terminalOutcome)
		return false
	}

	attempt := t.MaxAttempts - t.AttemptsLeft - 1
	backoff := m.config.BackoffBaseMS << attempt
	if m.config.BackoffMaxMS > 0 && backoff > m.config.BackoffMaxMS {
		backoff = m.config.BackoffMaxMS
	}
	if m.config.JitterPct > 0 {
		jitter := int64(backoff) * int64(m.rng.Intn(m.config.JitterPct+1)) / 100
		backoff += uint64(jitter)
	}

	now := m.nowMS()
	t.DeadlineMS = now + backoff + m.timeoutFor(t.FunctionCode)
	t.SubStateEnteredMS = now
	t.State = Enqueued

	var queue *[]Handle
	if t.Priority == High {
		queue = &m.highQueue
	} else {
		queue = &m.normalQueue
	}
	*queue = append(*queue, t.Handle())
	return true
}

// CheckWatchdog forces t to Aborted if it has spent more than
// K*timeout_ms in its current sub-state, where K is
// Config.WatchdogMultiple (spec §4.3). Returns true if it fired.
func (m *Manager) CheckWatchdog(t *Transaction) bool {
	if t.IsTerminal() || m.config.WatchdogMultiple == 0 {
		return false
	}
	limit := m.config.WatchdogMultiple * m.timeoutFor(t.FunctionCode)
	if m.nowMS()-t.SubStateEnteredMS <= limit {
		return false
	}
	m.faultCount++
	m.Complete(t, core.OutcomeAborted)
	return true
}

// FaultCount returns the number of watchdog trips observed so far.
func (m *Manager) FaultCount() uint64 { return m.faultCount }

// HighQueueLen and NormalQueueLen expose current queue depth for tests
// and diagnostics.
func (m *Manager) HighQueueLen() int   { return len(m.highQueue) }
func (m *Manager) NormalQueueLen() int { return len(m.normalQueue) }

// PoolInUse returns the number of transaction slots currently acquired.
func (m *Manager) PoolInUse() int { return m.pool.InUse() }

// PoolCapacity returns the fixed transaction pool size.
func (m *Manager) PoolCapacity() int { return m.pool.Capacity() }
