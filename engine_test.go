package modbuscore

import (
	"testing"
	"time"

	"github.com/modbuscore/modbuscore/config"
	"github.com/modbuscore/modbuscore/core"
	"github.com/modbuscore/modbuscore/diag"
	"github.com/modbuscore/modbuscore/pdu"
	"github.com/modbuscore/modbuscore/register"
	"github.com/modbuscore/modbuscore/transport"
	"github.com/modbuscore/modbuscore/txn"
)

func newHoldingRegisters(n int) *register.Map {
	regs := make([]uint16, n)
	for i := range regs {
		regs[i] = uint16(i)
	}
	m := register.NewMap()
	_ = m.AddRegisterRegion(register.HoldingRegisters, 0, uint16(n), register.NewSliceRegisterBackend(regs, true))
	return m
}

// pump drives client and server engines in lockstep, bridging bytes
// each side sends into the other's transport, for a fixed 20 rounds
// whether or not the round trip has completed. The short sleep between
// rounds gives the RTU decoders' real-time silence detection room to
// fire; it's a no-op for MBAP/ASCII round trips, just a slower test.
func pump(client, srv *Engine, clientTr, serverTr *transport.MemTransport) {
	for i := 0; i < 20; i++ {
		client.Poll(0)
		if b := clientTr.Sent(); len(b) > 0 {
			serverTr.Deliver(b)
		}
		srv.Poll(0)
		if b := serverTr.Sent(); len(b) > 0 {
			clientTr.Deliver(b)
		}
		time.Sleep(3 * time.Millisecond)
	}
}

func TestEndToEndScenarioARTUReadHolding(t *testing.T) {
	clientTr := transport.NewMemTransport()
	serverTr := transport.NewMemTransport()

	cfg := config.Default()
	cfg.Framing = config.FramingRTU
	cfg.Server.UnitID = 1

	clientEngine, err := NewClientEngine(cfg, clientTr, diag.NewRecorder(16, nil, true, true), nil)
	if err != nil {
		t.Fatalf("new client engine: %v", err)
	}
	srvEngine, err := NewServerEngine(cfg, newHoldingRegisters(10), serverTr, diag.NewRecorder(16, nil, true, true), nil)
	if err != nil {
		t.Fatalf("new server engine: %v", err)
	}

	req, err := pdu.EncodeReadRequest(core.FuncReadHoldingRegisters, 0, 10)
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	h, err := clientEngine.Submit(txn.SubmitRequest{
		UnitID:       1,
		FunctionCode: core.FuncReadHoldingRegisters,
		RequestPDU:   req,
		Priority:     txn.Normal,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	clientEngine.Poll(0)
	wantReqBytes := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A, 0xC5, 0xCD}
	if got := clientTr.Sent(); string(got) != string(wantReqBytes) {
		t.Fatalf("request bytes: got % x want % x", got, wantReqBytes)
	}
	serverTr.Deliver(wantReqBytes)

	pump(clientEngine, srvEngine, clientTr, serverTr)

	tx, ok := clientEngine.Get(h)
	if !ok || !tx.IsTerminal() || tx.Outcome != core.OutcomeOk {
		t.Fatalf("expected Ok outcome, got ok=%v tx=%+v", ok, tx)
	}
	regs, err := pdu.ParseReadRegistersResponse(tx.ResponsePDU, 10)
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	for i, v := range regs {
		if v != uint16(i) {
			t.Fatalf("register %d = %d, want %d", i, v, i)
		}
	}
}

func TestEndToEndScenarioBTCPReadHolding(t *testing.T) {
	clientTr := transport.NewMemTransport()
	serverTr := transport.NewMemTransport()

	cfg := config.Default()
	cfg.Framing = config.FramingTCP
	cfg.Server.UnitID = 1

	clientEngine, err := NewClientEngine(cfg, clientTr, diag.NewRecorder(16, nil, true, true), nil)
	if err != nil {
		t.Fatalf("new client engine: %v", err)
	}
	srvEngine, err := NewServerEngine(cfg, newHoldingRegisters(10), serverTr, diag.NewRecorder(16, nil, true, true), nil)
	if err != nil {
		t.Fatalf("new server engine: %v", err)
	}

	req, err := pdu.EncodeReadRequest(core.FuncReadHoldingRegisters, 0, 10)
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	h, err := clientEngine.Submit(txn.SubmitRequest{
		UnitID:           1,
		FunctionCode:     core.FuncReadHoldingRegisters,
		RequestPDU:       req,
		TransactionIDTCP: 1,
		Priority:         txn.Normal,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	clientEngine.Poll(0)
	wantReqBytes := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x00, 0x00, 0x0A}
	if got := clientTr.Sent(); string(got) != string(wantReqBytes) {
		t.Fatalf("request bytes: got % x want % x", got, wantReqBytes)
	}
	serverTr.Deliver(wantReqBytes)
	srvEngine.Poll(0)

	respBytes := serverTr.Sent()
	if len(respBytes) != 29 { // 7-byte MBAP header + fc + bytecount + 20 data bytes
		t.Fatalf("response length: got %d want 29", len(respBytes))
	}
	clientTr.Deliver(respBytes)
	clientEngine.Poll(0)

	tx, ok := clientEngine.Get(h)
	if !ok || !tx.IsTerminal() || tx.Outcome != core.OutcomeOk {
		t.Fatalf("expected Ok outcome, got ok=%v tx=%+v", ok, tx)
	}
	regs, err := pdu.ParseReadRegistersResponse(tx.ResponsePDU, 10)
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	for i, v := range regs {
		if v != uint16(i) {
			t.Fatalf("register %d = %d, want %d", i, v, i)
		}
	}
}

func TestEndToEndScenarioCIllegalAddress(t *testing.T) {
	clientTr := transport.NewMemTransport()
	serverTr := transport.NewMemTransport()

	cfg := config.Default()
	cfg.Framing = config.FramingRTU
	cfg.Server.UnitID = 1

	clientEngine, err := NewClientEngine(cfg, clientTr, diag.NewRecorder(16, nil, true, true), nil)
	if err != nil {
		t.Fatalf("new client engine: %v", err)
	}
	srvEngine, err := NewServerEngine(cfg, newHoldingRegisters(0x0100), serverTr, diag.NewRecorder(16, nil, true, true), nil)
	if err != nil {
		t.Fatalf("new server engine: %v", err)
	}

	req, err := pdu.EncodeReadRequest(core.FuncReadHoldingRegisters, 0xFF00, 1)
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	h, err := clientEngine.Submit(txn.SubmitRequest{
		UnitID:       1,
		FunctionCode: core.FuncReadHoldingRegisters,
		RequestPDU:   req,
		Priority:     txn.Normal,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	pump(clientEngine, srvEngine, clientTr, serverTr)

	tx, ok := clientEngine.Get(h)
	if !ok || !tx.IsTerminal() || tx.Outcome != core.OutcomeIllegalDataAddress {
		t.Fatalf("expected IllegalDataAddress, got ok=%v tx=%+v", ok, tx)
	}
}

func TestEndToEndScenarioFBackpressure(t *testing.T) {
	clientTr := transport.NewMemTransport()
	cfg := config.Default()
	cfg.Framing = config.FramingTCP
	cfg.Queue.QueueCapacityNormal = 4
	cfg.Queue.QueueCapacityHigh = 4
	cfg.Queue.TransactionPoolCap = 16

	clientEngine, err := NewClientEngine(cfg, clientTr, diag.NewRecorder(16, nil, true, true), nil)
	if err != nil {
		t.Fatalf("new client engine: %v", err)
	}

	req, err := pdu.EncodeReadRequest(core.FuncReadHoldingRegisters, 0, 1)
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}

	for i := 0; i < 4; i++ {
		if _, err := clientEngine.Submit(txn.SubmitRequest{
			UnitID:           1,
			FunctionCode:     core.FuncReadHoldingRegisters,
			RequestPDU:       req,
			TransactionIDTCP: uint16(i),
			Priority:         txn.Normal,
		}); err != nil {
			t.Fatalf("submit %d: expected success, got %v", i, err)
		}
	}

	if _, err := clientEngine.Submit(txn.SubmitRequest{
		UnitID:           1,
		FunctionCode:     core.FuncReadHoldingRegisters,
		RequestPDU:       req,
		TransactionIDTCP: 99,
		Priority:         txn.Normal,
	}); err == nil {
		t.Fatal("expected the 5th normal submission to return Busy")
	}

	if _, err := clientEngine.Submit(txn.SubmitRequest{
		UnitID:           1,
		FunctionCode:     core.FuncReadHoldingRegisters,
		RequestPDU:       req,
		TransactionIDTCP: 100,
		Priority:         txn.High,
	}); err != nil {
		t.Fatalf("expected high-priority submission to still succeed, got %v", err)
	}
}

func TestClientEnginePollInvokesIdleCallbackWhenFullyIdle(t *testing.T) {
	clientTr := transport.NewMemTransport()
	cfg := config.Default()
	cfg.Framing = config.FramingTCP
	cfg.Idle.IdleThresholdMs = 5

	var slept time.Duration
	idle := func(proposed time.Duration) time.Duration {
		slept = proposed
		return proposed
	}
	engine, err := NewClientEngine(cfg, clientTr, diag.NewRecorder(16, nil, true, true), idle)
	if err != nil {
		t.Fatalf("new client engine: %v", err)
	}

	engine.Poll(0)

	if slept != 5*time.Millisecond {
		t.Fatalf("expected idle callback invoked with the threshold duration, got %v", slept)
	}
}

func TestClientEnginePollDoesNotIdleBeforeDeadlineClearsThreshold(t *testing.T) {
	clientTr := transport.NewMemTransport()
	cfg := config.Default()
	cfg.Framing = config.FramingTCP
	cfg.Timeout.ResponseTimeoutMsDefault = 1
	cfg.Idle.IdleThresholdMs = 1000

	called := false
	idle := func(proposed time.Duration) time.Duration {
		called = true
		return proposed
	}
	engine, err := NewClientEngine(cfg, clientTr, diag.NewRecorder(16, nil, true, true), idle)
	if err != nil {
		t.Fatalf("new client engine: %v", err)
	}

	req, err := pdu.EncodeReadRequest(core.FuncReadHoldingRegisters, 0, 1)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := engine.Submit(txn.SubmitRequest{
		UnitID:           1,
		FunctionCode:     core.FuncReadHoldingRegisters,
		RequestPDU:       req,
		TransactionIDTCP: 1,
		Priority:         txn.Normal,
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	engine.Poll(0) // acquires and sends the request
	engine.Poll(0) // now quiescent, waiting on a 1ms deadline far under the 1000ms idle threshold
	if called {
		t.Fatal("idle callback should not fire while the next deadline is nearer than the idle threshold")
	}
}

func TestServerEnginePollInvokesIdleCallbackWhenIdle(t *testing.T) {
	serverTr := transport.NewMemTransport()
	cfg := config.Default()
	cfg.Framing = config.FramingTCP
	cfg.Idle.IdleThresholdMs = 5

	var slept time.Duration
	idle := func(proposed time.Duration) time.Duration {
		slept = proposed
		return proposed
	}
	engine, err := NewServerEngine(cfg, newHoldingRegisters(1), serverTr, diag.NewRecorder(16, nil, true, true), idle)
	if err != nil {
		t.Fatalf("new server engine: %v", err)
	}

	engine.Poll(0)

	if slept != 5*time.Millisecond {
		t.Fatalf("expected idle callback invoked with the threshold duration, got %v", slept)
	}
}

func TestSubmitOnServerEngineReturnsError(t *testing.T) {
	serverTr := transport.NewMemTransport()
	cfg := config.Default()
	engine, err := NewServerEngine(cfg, newHoldingRegisters(1), serverTr, diag.NewRecorder(16, nil, true, true), nil)
	if err != nil {
		t.Fatalf("new server engine: %v", err)
	}
	if _, err := engine.Submit(txn.SubmitRequest{}); err == nil {
		t.Fatal("expected Submit on a server engine to error")
	}
}

func TestNewEngineRejectsInvalidConfig(t *testing.T) {
	tr := transport.NewMemTransport()
	cfg := config.Default()
	cfg.Buffers.MaxPDUSize = 1000
	if _, err := NewClientEngine(cfg, tr, nil, nil); err == nil {
		t.Fatal("expected invalid config to be rejected")
	}
}
