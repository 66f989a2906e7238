// Package client implements the per-transaction client FSM: Idle →
// Sending → Waiting → (Done | Timeout | Retry | Abort), driven by a
// cooperative Poll(budget) step contract that never blocks (spec
// §4.4). It is grounded on the teacher's Client.sendRequest
// retry/timeout loop (client.go), restructured from a blocking call
// into explicit states the caller drives one micro-step at a time.
package client

import (
	"time"

	"github.com/modbuscore/modbuscore/core"
	"github.com/modbuscore/modbuscore/diag"
	"github.com/modbuscore/modbuscore/framing"
	"github.com/modbuscore/modbuscore/pdu"
	"github.com/modbuscore/modbuscore/ringbuf"
	"github.com/modbuscore/modbuscore/transport"
	"github.com/modbuscore/modbuscore/txn"
)

// Framing selects the wire envelope the FSM encodes/decodes.
type Framing uint8

const (
	RTU Framing = iota
	ASCII
	MBAP
)

// sendSlackAttempts bounds how many WouldBlock results (counted across
// one send attempt) the FSM tolerates while Sending before it treats the
// attempt as failed
// and defers to the manager's retry logic (spec §4.4's "configured
// slack window").
const sendSlackAttempts = 8

// FSM drives one transport's worth of in-flight client transactions.
// RTU and ASCII framings only ever have one transaction in flight at a
// time (spec §4.4's per-unit-id ordering guarantee); MBAP could
// support several concurrently distinguished by transaction id, but
// this FSM keeps exactly one in flight regardless of framing — simpler
// and still spec-compliant, since the ordering guarantee only requires
// that TCP transactions *may* overlap, not that they must.
type FSM struct {
	manager   *txn.Manager
	transport transport.Transport
	recorder  *diag.Recorder
	framingT  Framing
	unitID    uint8 // configured unit id; encode uses each transaction's own UnitID

	rx *ringbuf.Ring

	rtuDecoder   *framing.RTUDecoder
	asciiDecoder *framing.ASCIIDecoder
	mbapDecoder  *framing.MBAPDecoder

	nowTime func() time.Time

	current      *txn.Transaction
	pending      []byte // encoded frame awaiting transport.Send
	sentOffset   int
	wouldBlocks  int
	rxScratch    []byte
}

// Config bundles the knobs Poll needs beyond the manager/transport.
type Config struct {
	Framing    Framing
	UnitID     uint8
	RingCap    int
	SilenceGap time.Duration // RTU only
	NowTime    func() time.Time
}

// NewFSM constructs a client FSM over the given transaction manager and
// transport.
func NewFSM(manager *txn.Manager, t transport.Transport, recorder *diag.Recorder, cfg Config) *FSM {
	nowTime := cfg.NowTime
	if nowTime == nil {
		nowTime = time.Now
	}
	f := &FSM{
		manager:   manager,
		transport: t,
		recorder:  recorder,
		framingT:  cfg.Framing,
		unitID:    cfg.UnitID,
		rx:        ringbuf.New(cfg.RingCap),
		nowTime:   nowTime,
		rxScratch: make([]byte, 256),
	}
	switch cfg.Framing {
	case RTU:
		f.rtuDecoder = framing.NewRTUDecoder(cfg.SilenceGap)
	case ASCII:
		f.asciiDecoder = framing.NewASCIIDecoder()
	case MBAP:
		f.mbapDecoder = framing.NewMBAPDecoder()
	}
	return f
}

func (f *FSM) emit(t *txn.Transaction, outcome core.OutcomeSlot, evType diag.EventType) {
	if f.recorder == nil {
		return
	}
	fc := core.FunctionCode(0)
	if t != nil {
		fc = t.FunctionCode
	}
	f.recorder.Emit(diag.Event{
		TimestampMS:  f.transport.NowMS(),
		Role:         diag.RoleClient,
		FunctionCode: fc,
		Outcome:      outcome,
		Type:         evType,
	})
}

func (f *FSM) encode(t *txn.Transaction) []byte {
	switch f.framingT {
	case RTU:
		return framing.EncodeRTU(t.UnitID, t.RequestPDU)
	case ASCII:
		return framing.EncodeASCII(t.UnitID, t.RequestPDU)
	default:
		return framing.EncodeMBAP(t.TransactionIDTCP, t.UnitID, t.RequestPDU)
	}
}

// Poll executes at most budgetSteps micro-steps (0 = unbounded, capped
// internally so a permanently-idle system still returns). Each
// micro-step performs at most one of: pull a new transaction off the
// manager; advance a send; pull bytes off the transport into the RX
// ring and feed the decoder; check a decoded frame against the
// in-flight transaction; check the deadline/watchdog (spec §4.4).
// Returns the number of micro-steps that made progress (0 when the FSM
// was already quiescent).
func (f *FSM) Poll(budgetSteps int) int {
	limit := budgetSteps
	if limit <= 0 {
		limit = 10_000
	}
	steps := 0
	for steps < limit {
		if !f.step() {
			break
		}
		steps++
	}
	return steps
}

// step performs one micro-step and reports whether it made progress
// (so Poll can stop early once the FSM is quiescent).
func (f *FSM) step() bool {
	if f.current == nil {
		return f.tryAcquireNext()
	}
	switch f.current.State {
	case txn.Sending:
		return f.stepSending()
	case txn.AwaitingResponse:
		return f.stepWaiting()
	default:
		// Terminal transaction the caller hasn't released yet; nothing
		// more for the FSM to do until it's released.
		f.current = nil
		return false
	}
}

func (f *FSM) tryAcquireNext() bool {
	t, ok := f.manager.Next()
	if !ok {
		return false
	}
	f.current = t
	f.pending = f.encode(t)
	f.sentOffset = 0
	f.wouldBlocks = 0
	now := f.transport.NowMS()
	t.State = txn.Sending
	t.SubStateEnteredMS = now
	f.emit(t, core.OutcomeOk, diag.EventStateChange)
	return true
}

func (f *FSM) stepSending() bool {
	t := f.current
	if t.Cancelled() {
		f.abort(t, core.OutcomeCancelled)
		return true
	}

	result := f.transport.Send(f.pending[f.sentOffset:])
	if result.Err != nil {
		f.manager.RetryOrTerminate(t, core.OutcomeIoError)
		f.emit(t, core.OutcomeIoError, diag.EventRetry)
		f.current = nil
		return true
	}
	f.sentOffset += result.Accepted
	if f.sentOffset >= len(f.pending) {
		now := f.transport.NowMS()
		t.State = txn.AwaitingResponse
		t.SubStateEnteredMS = now
		f.emit(t, core.OutcomeOk, diag.EventTxSent)
		return true
	}
	if result.WouldBlock {
		f.wouldBlocks++
		if f.wouldBlocks > sendSlackAttempts {
			f.manager.RetryOrTerminate(t, core.OutcomeIoError)
			f.emit(t, core.OutcomeIoError, diag.EventRetry)
			f.current = nil
			return true
		}
		return false
	}
	return true
}

func (f *FSM) stepWaiting() bool {
	t := f.current
	if t.Cancelled() {
		f.abort(t, core.OutcomeCancelled)
		return true
	}
	if f.manager.CheckWatchdog(t) {
		f.emit(t, core.OutcomeAborted, diag.EventTimeout)
		f.current = nil
		return true
	}

	recv := f.transport.Receive(f.rxScratch)
	progressed := false
	if recv.N > 0 {
		f.rx.Write(f.rxScratch[:recv.N])
		progressed = true
		f.emit(t, core.OutcomeOk, diag.EventRxReady)
	}

	if frame, ok := f.pollFrame(); ok {
		f.handleFrame(t, frame)
		return true
	}

	now := f.transport.NowMS()
	if now >= t.DeadlineMS {
		if f.manager.RetryOrTerminate(t, core.OutcomeTimeout) {
			f.emit(t, core.OutcomeTimeout, diag.EventRetry)
		} else {
			f.emit(t, core.OutcomeTimeout, diag.EventTimeout)
		}
		f.current = nil
		return true
	}
	return progressed
}

// pollFrame drains staged RX bytes into the configured decoder and
// reports whether a complete frame is ready.
func (f *FSM) pollFrame() ([]byte, bool) {
	var drain [256]byte
	for {
		n := f.rx.Read(drain[:])
		if n == 0 {
			break
		}
		switch f.framingT {
		case RTU:
			f.rtuDecoder.Feed(drain[:n], f.nowTime())
		case ASCII:
			f.asciiDecoder.Feed(drain[:n])
		case MBAP:
			f.mbapDecoder.Feed(drain[:n])
		}
	}
	switch f.framingT {
	case RTU:
		if f.rtuDecoder.Poll(f.nowTime()) {
			return f.rtuDecoder.Take(), true
		}
	case ASCII:
		if f.asciiDecoder.State() == framing.ASCIIFrameReady {
			return f.asciiDecoder.Take(), true
		}
	case MBAP:
		if f.mbapDecoder.Poll() {
			return f.mbapDecoder.Take(), true
		}
	}
	return nil, false
}

func (f *FSM) handleFrame(t *txn.Transaction, frame []byte) {
	var unitID uint8
	var tid uint16
	var p pdu.PDU
	var err error
	switch f.framingT {
	case RTU:
		unitID, p, err = framing.DecodeRTU(frame)
	case ASCII:
		unitID, p, err = framing.DecodeASCII(frame)
	default:
		tid, unitID, p, err = framing.DecodeMBAP(frame)
	}
	if err != nil {
		outcome := core.OutcomeMalformedFrame
		if ferr, ok := err.(*framing.FramingError); ok {
			outcome = ferr.Outcome
		}
		f.emit(t, outcome, diag.EventDrop)
		return // stay Waiting; a corrupt byte run does not end the transaction
	}
	if f.framingT == MBAP && tid != t.TransactionIDTCP {
		f.emit(t, core.OutcomeOk, diag.EventDrop)
		return // response for a different transaction id; ignore
	}
	if f.framingT != MBAP && unitID != t.UnitID {
		f.emit(t, core.OutcomeOk, diag.EventDrop)
		return
	}

	t.ResponsePDU = p
	var outcome core.OutcomeSlot
	evType := diag.EventTxComplete
	if p.IsException() {
		_, ec, _ := pdu.ParseException(p)
		outcome = core.ExceptionToOutcome(ec)
		evType = diag.EventException
	} else {
		outcome = core.OutcomeOk
	}
	f.manager.Complete(t, outcome)
	f.emit(t, outcome, evType)
	f.current = nil
}

// abort completes t with outcome and clears it as current. Callers
// distinguish user cancellation (core.OutcomeCancelled) from other
// abnormal termination so diagnostics counters reflect what actually
// happened.
func (f *FSM) abort(t *txn.Transaction, outcome core.OutcomeSlot) {
	f.manager.Complete(t, outcome)
	f.emit(t, outcome, diag.EventDrop)
	f.current = nil
}

// Idle reports whether the FSM has no in-flight transaction and no
// queued work, i.e. a further Poll call would do nothing.
func (f *FSM) Idle() bool {
	return f.current == nil && f.manager.HighQueueLen() == 0 && f.manager.NormalQueueLen() == 0
}

// CurrentDeadlineMS returns the in-flight transaction's deadline, for
// the engine's idle-hook scheduling (spec §5's "next event" estimate).
// ok is false when nothing is in flight.
func (f *FSM) CurrentDeadlineMS() (deadlineMS uint64, ok bool) {
	if f.current == nil {
		return 0, false
	}
	return f.current.DeadlineMS, true
}
