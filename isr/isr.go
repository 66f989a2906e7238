// Package isr implements the minimal interrupt-context shim: a probe
// chain for detecting ISR context, and the two allocation-free handoffs
// (RX bytes in, TX spans out) between an interrupt and the cooperative
// task that owns the rest of the engine (spec §4.8).
//
// Go has no portable way to ask "am I running on an interrupt stack" —
// that's a property of the host architecture and RTOS, not the
// language. Shim callers wire in whatever probes their platform offers;
// a hosted build with no interrupts at all can leave the probe list
// empty and drive the manual flag instead.
package isr

import (
	"sync/atomic"

	"github.com/modbuscore/modbuscore/core"
	"github.com/modbuscore/modbuscore/spscqueue"
)

// Probe reports whether the caller is currently executing in interrupt
// context. Probes are checked in the order they were added; the first
// one to return true wins.
type Probe func() bool

// RxResult is the outcome of feeding a chunk of bytes into the shim
// from interrupt context.
type RxResult uint8

const (
	// RxEnqueued means the chunk passed minimal validation and was
	// queued for the task to pick up.
	RxEnqueued RxResult = iota
	// RxInvalid means the chunk failed the length floor or (for RTU
	// frames where a complete frame is present) the CRC check, and was
	// dropped without touching the queue.
	RxInvalid
	// RxBusy means the chunk was valid but the RX queue refused it
	// (queue full, or chunk longer than spscqueue.MaxSlotBytes); the
	// shim has already counted it in OverrunCount.
	RxBusy
)

// Shim wires the ISR-context probe chain and the two SPSC slot queues
// (RX in, TX out) that cross the interrupt/task boundary.
type Shim struct {
	probes     []Probe
	manualFlag atomic.Bool

	rx *spscqueue.Queue
	tx *spscqueue.Queue

	minFrameLen int
	rtuCRC      bool

	overrunCount atomic.Uint32
	invalidCount atomic.Uint32
}

// New builds a Shim. rx carries complete frame spans from the ISR to
// the task; tx carries spans the task has queued for the ISR to hand
// to DMA. minFrameLen is the shortest legal ADU the port expects
// (e.g. 4 for RTU: unit id + function code + 2-byte CRC); rtuCRC
// enables the CRC check on chunks long enough to contain one.
func New(rx, tx *spscqueue.Queue, minFrameLen int, rtuCRC bool) *Shim {
	return &Shim{rx: rx, tx: tx, minFrameLen: minFrameLen, rtuCRC: rtuCRC}
}

// AddProbe registers an architecture- or RTOS-specific interrupt-status
// predicate. Probes run in registration order before the manual flag
// fallback.
func (s *Shim) AddProbe(p Probe) {
	s.probes = append(s.probes, p)
}

// SetManualFlag drives the last-resort fallback predicate, for ports
// with no architecture register or RTOS hook to probe. The caller's
// interrupt entry/exit glue is responsible for toggling it.
func (s *Shim) SetManualFlag(inISR bool) {
	s.manualFlag.Store(inISR)
}

// InISR reports whether the caller is executing in interrupt context:
// architecture probe, then RTOS probe, then the manual flag.
func (s *Shim) InISR() bool {
	for _, p := range s.probes {
		if p() {
			return true
		}
	}
	return s.manualFlag.Load()
}

// RxChunkFromISR validates a just-received chunk and enqueues it for
// the task. It never allocates: span is copied into a pre-sized queue
// slot. Validation is deliberately minimal — a length floor, plus a CRC
// check when the chunk is long enough to be a complete RTU frame —
// matching framing's own decoders rather than duplicating full frame
// parsing here.
func (s *Shim) RxChunkFromISR(span []byte) RxResult {
	if len(span) < s.minFrameLen {
		s.invalidCount.Add(1)
		return RxInvalid
	}
	if s.rtuCRC && len(span) >= 4 {
		body := span[:len(span)-2]
		want := core.CRC16(body)
		got := uint16(span[len(span)-2]) | uint16(span[len(span)-1])<<8
		if want != got {
			s.invalidCount.Add(1)
			return RxInvalid
		}
	}
	if !s.rx.Push(span, 0) {
		s.overrunCount.Add(1)
		return RxBusy
	}
	return RxEnqueued
}

// TryTXFromISR returns the next queued TX span, if one is ready, for
// the ISR to hand to DMA. The returned slice aliases queue storage and
// is only valid until a later QueueTX reuses its slot.
func (s *Shim) TryTXFromISR() ([]byte, bool) {
	span, _, ok := s.tx.Pop()
	return span, ok
}

// OverrunCount returns the number of RX chunks dropped because the
// queue was full.
func (s *Shim) OverrunCount() uint32 { return s.overrunCount.Load() }

// InvalidCount returns the number of RX chunks dropped for failing the
// length floor or CRC check.
func (s *Shim) InvalidCount() uint32 { return s.invalidCount.Load() }

// RxQueue exposes the RX queue for the task side to drain via Pop.
func (s *Shim) RxQueue() *spscqueue.Queue { return s.rx }

// QueueTX enqueues a span from the task side for the ISR to pick up via
// TryTXFromISR. Returns false (Busy) if the TX queue is full.
func (s *Shim) QueueTX(span []byte) bool {
	return s.tx.Push(span, 0)
}
