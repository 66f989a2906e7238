package isr

import (
	"testing"

	"github.com/modbuscore/modbuscore/core"
	"github.com/modbuscore/modbuscore/framing"
	"github.com/modbuscore/modbuscore/pdu"
	"github.com/modbuscore/modbuscore/spscqueue"
)

func validRTUFrame(t *testing.T) []byte {
	t.Helper()
	req, err := pdu.EncodeReadRequest(core.FuncReadHoldingRegisters, 0, 10)
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	return framing.EncodeRTU(1, req)
}

func TestInISRChecksProbesBeforeManualFlag(t *testing.T) {
	s := New(spscqueue.New(4), spscqueue.New(4), 4, true)

	if s.InISR() {
		t.Fatal("expected false with no probes and manual flag unset")
	}

	s.SetManualFlag(true)
	if !s.InISR() {
		t.Fatal("expected manual flag fallback to report true")
	}
	s.SetManualFlag(false)

	called := false
	s.AddProbe(func() bool { called = true; return false })
	s.AddProbe(func() bool { return true })
	if !s.InISR() {
		t.Fatal("expected second probe to report true")
	}
	if !called {
		t.Fatal("expected first probe to have been consulted")
	}
}

func TestRxChunkFromISRRejectsShortChunks(t *testing.T) {
	s := New(spscqueue.New(4), spscqueue.New(4), 4, true)

	if got := s.RxChunkFromISR([]byte{0x01, 0x03}); got != RxInvalid {
		t.Fatalf("expected RxInvalid, got %v", got)
	}
	if s.InvalidCount() != 1 {
		t.Fatalf("expected invalid count 1, got %d", s.InvalidCount())
	}
	if s.RxQueue().Len() != 0 {
		t.Fatal("short chunk must not reach the queue")
	}
}

func TestRxChunkFromISRRejectsBadCRC(t *testing.T) {
	s := New(spscqueue.New(4), spscqueue.New(4), 4, true)

	frame := validRTUFrame(t)
	frame[len(frame)-1] ^= 0xFF // corrupt the CRC

	if got := s.RxChunkFromISR(frame); got != RxInvalid {
		t.Fatalf("expected RxInvalid for corrupted CRC, got %v", got)
	}
	if s.RxQueue().Len() != 0 {
		t.Fatal("CRC-invalid chunk must not reach the queue")
	}
}

func TestRxChunkFromISREnqueuesValidFrame(t *testing.T) {
	s := New(spscqueue.New(4), spscqueue.New(4), 4, true)

	frame := validRTUFrame(t)
	if got := s.RxChunkFromISR(frame); got != RxEnqueued {
		t.Fatalf("expected RxEnqueued, got %v", got)
	}
	span, _, ok := s.RxQueue().Pop()
	if !ok {
		t.Fatal("expected a queued frame")
	}
	if string(span) != string(frame) {
		t.Fatalf("queued span mismatch: got % x want % x", span, frame)
	}
}

func TestRxChunkFromISRReportsBusyAndIncrementsOverrun(t *testing.T) {
	s := New(spscqueue.New(2), spscqueue.New(2), 4, true)
	frame := validRTUFrame(t)

	for i := 0; i < 2; i++ {
		if got := s.RxChunkFromISR(frame); got != RxEnqueued {
			t.Fatalf("fill %d: expected RxEnqueued, got %v", i, got)
		}
	}

	if got := s.RxChunkFromISR(frame); got != RxBusy {
		t.Fatalf("expected RxBusy once the queue is full, got %v", got)
	}
	if s.OverrunCount() != 1 {
		t.Fatalf("expected overrun count 1, got %d", s.OverrunCount())
	}
}

func TestTryTXFromISRPopsQueuedSpan(t *testing.T) {
	s := New(spscqueue.New(4), spscqueue.New(4), 4, true)

	if _, ok := s.TryTXFromISR(); ok {
		t.Fatal("expected no TX span on an empty queue")
	}

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if !s.QueueTX(payload) {
		t.Fatal("expected QueueTX to succeed")
	}

	span, ok := s.TryTXFromISR()
	if !ok {
		t.Fatal("expected a queued TX span")
	}
	if string(span) != string(payload) {
		t.Fatalf("TX span mismatch: got % x want % x", span, payload)
	}
	if _, ok := s.TryTXFromISR(); ok {
		t.Fatal("expected queue to be empty after pop")
	}
}

func TestRxChunkFromISRSkipsCRCWhenDisabled(t *testing.T) {
	s := New(spscqueue.New(4), spscqueue.New(4), 4, false)

	frame := validRTUFrame(t)
	frame[len(frame)-1] ^= 0xFF // corrupt the CRC; shouldn't matter with rtuCRC=false

	if got := s.RxChunkFromISR(frame); got != RxEnqueued {
		t.Fatalf("expected RxEnqueued with CRC checking disabled, got %v", got)
	}
}
