// Package server implements the server-side FSM: Receiving →
// Dispatching → Responding, dispatching complete frames against a
// register.Map and generating exception responses on bad input (spec
// §4.5). Grounded on the teacher's ServerRequestHandler.HandleRequest
// dispatch switch (server.go), restructured from a blocking per-
// request handler into a poll-driven, non-blocking FSM.
package server

import (
	"time"

	"github.com/modbuscore/modbuscore/core"
	"github.com/modbuscore/modbuscore/diag"
	"github.com/modbuscore/modbuscore/framing"
	"github.com/modbuscore/modbuscore/pdu"
	"github.com/modbuscore/modbuscore/register"
	"github.com/modbuscore/modbuscore/ringbuf"
	"github.com/modbuscore/modbuscore/transport"
)

// Framing selects the wire envelope this server speaks.
type Framing uint8

const (
	RTU Framing = iota
	ASCII
	MBAP
)

// broadcastUnitID is the RTU/ASCII convention for "every server must
// act on this write but none may answer" (spec §4.5).
const broadcastUnitID = 0

type fsmState uint8

const (
	receiving fsmState = iota
	responding
)

// Config bundles the FSM's construction-time knobs.
type Config struct {
	Framing Framing
	UnitID  uint8
	RingCap int

	SilenceGap time.Duration // RTU only

	// ExceptionStatus is returned verbatim by FC 0x07 (Read Exception
	// Status); set via SetExceptionStatus.
	ExceptionStatus uint8
	// ServerID and Running back FC 0x11 (Report Server ID).
	ServerID []byte
	Running  bool

	NowTime func() time.Time
}

// FSM is one server's receive/dispatch/respond loop over a single
// transport connection.
type FSM struct {
	transport transport.Transport
	recorder  *diag.Recorder
	registers *register.Map
	framingT  Framing
	unitID    uint8

	rx *ringbuf.Ring

	rtuDecoder   *framing.RTUDecoder
	asciiDecoder *framing.ASCIIDecoder
	mbapDecoder  *framing.MBAPDecoder

	nowTime func() time.Time

	state      fsmState
	pending    []byte
	sentOffset int
	rxScratch  []byte

	exceptionStatus uint8
	serverID        []byte
	running         bool
}

// NewFSM constructs a server FSM dispatching against registers.
func NewFSM(registers *register.Map, t transport.Transport, recorder *diag.Recorder, cfg Config) *FSM {
	nowTime := cfg.NowTime
	if nowTime == nil {
		nowTime = time.Now
	}
	f := &FSM{
		transport:       t,
		recorder:        recorder,
		registers:       registers,
		framingT:        cfg.Framing,
		unitID:          cfg.UnitID,
		rx:              ringbuf.New(cfg.RingCap),
		nowTime:         nowTime,
		rxScratch:       make([]byte, 256),
		exceptionStatus: cfg.ExceptionStatus,
		serverID:        cfg.ServerID,
		running:         cfg.Running,
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

// SetExceptionStatus updates the byte FC 0x07 reports.
func (f *FSM) SetExceptionStatus(status uint8) { f.exceptionStatus = status }

// Idle reports whether the FSM is in its receiving state with no
// response awaiting send; bytes of a partially received frame are not
// considered. In that state there is no known next event (the
// server has no deadline of its own; it waits on an arbitrary peer
// request), used by the engine's idle-hook scheduling (spec §5).
func (f *FSM) Idle() bool { return f.state == receiving }

func (f *FSM) emit(fc core.FunctionCode, outcome core.OutcomeSlot, evType diag.EventType) {
	if f.recorder == nil {
		return
	}
	f.recorder.Emit(diag.Event{
		TimestampMS:  f.transport.NowMS(),
		Role:         diag.RoleServer,
		FunctionCode: fc,
		Outcome:      outcome,
		Type:         evType,
	})
}

// Poll executes at most budgetSteps micro-steps (0 = unbounded, capped
// internally). Returns the number of steps executed.
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

func (f *FSM) step() bool {
	switch f.state {
	case responding:
		return f.stepResponding()
	default:
		return f.stepReceiving()
	}
}

func (f *FSM) stepReceiving() bool {
	recv := f.transport.Receive(f.rxScratch)
	progressed := false
	if recv.N > 0 {
		f.rx.Write(f.rxScratch[:recv.N])
		progressed = true
	}

	frame, ok := f.pollFrame()
	if !ok {
		return progressed
	}

	unitID, tid, pduIn, err := f.decodeFrame(frame)
	if err != nil {
		outcome := core.OutcomeMalformedFrame
		if ferr, ok := err.(*framing.FramingError); ok {
			outcome = ferr.Outcome
		}
		f.emit(0, outcome, diag.EventDrop)
		return true
	}

	if unitID != f.unitID && unitID != broadcastUnitID {
		f.emit(pduIn.FunctionCode, core.OutcomeOk, diag.EventDrop)
		return true
	}

	broadcast := unitID == broadcastUnitID
	if broadcast && isReadFunctionCode(pduIn.FunctionCode) {
		f.emit(pduIn.FunctionCode, core.OutcomeOk, diag.EventDrop)
		return true // reads addressed to broadcast are dropped, spec §4.5
	}

	respPDU := f.dispatch(pduIn)
	if broadcast {
		return true // broadcast writes execute but never get a reply
	}

	f.pending = f.encodeResponse(tid, respPDU)
	f.sentOffset = 0
	f.state = responding
	evType := diag.EventTxComplete
	outcome := core.OutcomeOk
	if respPDU.IsException() {
		evType = diag.EventException
		_, ec, _ := pdu.ParseException(respPDU)
		outcome = core.ExceptionToOutcome(ec)
	}
	f.emit(pduIn.FunctionCode, outcome, evType)
	return true
}

func (f *FSM) stepResponding() bool {
	result := f.transport.Send(f.pending[f.sentOffset:])
	if result.Err != nil {
		f.emit(0, core.OutcomeIoError, diag.EventDrop)
		f.state = receiving
		return true
	}
	f.sentOffset += result.Accepted
	if f.sentOffset >= len(f.pending) {
		f.state = receiving
		f.pending = nil
		return true
	}
	return !result.WouldBlock
}

// pollFrame drains staged RX bytes into the configured decoder and
// reports a complete frame if one is ready. It returns only the raw
// frame; the unit id and transaction id are extracted once, by
// decodeFrame.
func (f *FSM) pollFrame() (frame []byte, ok bool) {
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

func (f *FSM) decodeFrame(frame []byte) (unitID uint8, tid uint16, p pdu.PDU, err error) {
	switch f.framingT {
	case RTU:
		unitID, p, err = framing.DecodeRTU(frame)
	case ASCII:
		unitID, p, err = framing.DecodeASCII(frame)
	default:
		tid, unitID, p, err = framing.DecodeMBAP(frame)
	}
	return unitID, tid, p, err
}

func (f *FSM) encodeResponse(tid uint16, p pdu.PDU) []byte {
	switch f.framingT {
	case RTU:
		return framing.EncodeRTU(f.unitID, p)
	case ASCII:
		return framing.EncodeASCII(f.unitID, p)
	default:
		return framing.EncodeMBAP(tid, f.unitID, p)
	}
}

func isReadFunctionCode(fc core.FunctionCode) bool {
	switch fc {
	case core.FuncReadCoils, core.FuncReadDiscreteInputs, core.FuncReadHoldingRegisters,
		core.FuncReadInputRegisters, core.FuncReadExceptionStatus, core.FuncReportServerID:
		return true
	default:
		return false
	}
}

// dispatch resolves fc against the register map and returns the
// response PDU (exception-encoded on any failure). It never blocks and
// never panics on malformed input (spec §4.5's exception policy).
func (f *FSM) dispatch(p pdu.PDU) pdu.PDU {
	switch p.FunctionCode {
	case core.FuncReadCoils:
		return f.dispatchReadBits(p, register.Coils)
	case core.FuncReadDiscreteInputs:
		return f.dispatchReadBits(p, register.DiscreteInputs)
	case core.FuncReadHoldingRegisters:
		return f.dispatchReadRegisters(p, register.HoldingRegisters)
	case core.FuncReadInputRegisters:
		return f.dispatchReadRegisters(p, register.InputRegisters)
	case core.FuncWriteSingleCoil:
		return f.dispatchWriteSingleCoil(p)
	case core.FuncWriteSingleRegister:
		return f.dispatchWriteSingleRegister(p)
	case core.FuncWriteMultipleCoils:
		return f.dispatchWriteMultipleCoils(p)
	case core.FuncWriteMultipleRegisters:
		return f.dispatchWriteMultipleRegisters(p)
	case core.FuncMaskWriteRegister:
		return f.dispatchMaskWriteRegister(p)
	case core.FuncReadWriteMultipleRegs:
		return f.dispatchReadWriteMultiple(p)
	case core.FuncReadExceptionStatus:
		return pdu.EncodeReadExceptionStatusResponse(f.exceptionStatus)
	case core.FuncReportServerID:
		return pdu.EncodeReportServerIDResponse(f.serverID, f.running)
	default:
		return pdu.EncodeException(p.FunctionCode, core.ExcIllegalFunction)
	}
}

func asException(fc core.FunctionCode, err error) pdu.PDU {
	if merr, ok := err.(*core.ModbusError); ok {
		return pdu.EncodeException(fc, core.OutcomeToException(merr.Outcome))
	}
	return pdu.EncodeException(fc, core.ExcServerDeviceFailure)
}

func (f *FSM) dispatchReadBits(p pdu.PDU, region register.RegionType) pdu.PDU {
	args, err := pdu.ParseReadRequest(p)
	if err != nil {
		return asException(p.FunctionCode, err)
	}
	bits, err := f.registers.ReadBits(region, args.Address, args.Quantity)
	if err != nil {
		return asException(p.FunctionCode, err)
	}
	return pdu.EncodeReadBitsResponse(p.FunctionCode, bits)
}

func (f *FSM) dispatchReadRegisters(p pdu.PDU, region register.RegionType) pdu.PDU {
	args, err := pdu.ParseReadRequest(p)
	if err != nil {
		return asException(p.FunctionCode, err)
	}
	regs, err := f.registers.ReadRegisters(region, args.Address, args.Quantity)
	if err != nil {
		return asException(p.FunctionCode, err)
	}
	return pdu.EncodeReadRegistersResponse(p.FunctionCode, regs)
}

func (f *FSM) dispatchWriteSingleCoil(p pdu.PDU) pdu.PDU {
	addr, value, err := pdu.ParseWriteSingleCoilRequest(p)
	if err != nil {
		return asException(p.FunctionCode, err)
	}
	if err := f.registers.WriteBits(register.Coils, addr, []bool{value}); err != nil {
		return asException(p.FunctionCode, err)
	}
	return pdu.EncodeWriteSingleCoilResponse(addr, value)
}

func (f *FSM) dispatchWriteSingleRegister(p pdu.PDU) pdu.PDU {
	addr, value, err := pdu.ParseWriteSingleRegisterRequest(p)
	if err != nil {
		return asException(p.FunctionCode, err)
	}
	if err := f.registers.WriteRegisters(register.HoldingRegisters, addr, []uint16{value}); err != nil {
		return asException(p.FunctionCode, err)
	}
	return pdu.EncodeWriteSingleRegisterResponse(addr, value)
}

func (f *FSM) dispatchWriteMultipleCoils(p pdu.PDU) pdu.PDU {
	addr, values, err := pdu.ParseWriteMultipleCoilsRequest(p)
	if err != nil {
		return asException(p.FunctionCode, err)
	}
	if err := f.registers.WriteBits(register.Coils, addr, values); err != nil {
		return asException(p.FunctionCode, err)
	}
	return pdu.EncodeWriteMultipleResponse(p.FunctionCode, addr, uint16(len(values)))
}

func (f *FSM) dispatchWriteMultipleRegisters(p pdu.PDU) pdu.PDU {
	addr, values, err := pdu.ParseWriteMultipleRegistersRequest(p)
	if err != nil {
		return asException(p.FunctionCode, err)
	}
	if err := f.registers.WriteRegisters(register.HoldingRegisters, addr, values); err != nil {
		return asException(p.FunctionCode, err)
	}
	return pdu.EncodeWriteMultipleResponse(p.FunctionCode, addr, uint16(len(values)))
}

func (f *FSM) dispatchMaskWriteRegister(p pdu.PDU) pdu.PDU {
	addr, andMask, orMask, err := pdu.ParseMaskWriteRegisterRequest(p)
	if err != nil {
		return asException(p.FunctionCode, err)
	}
	current, err := f.registers.ReadRegisters(register.HoldingRegisters, addr, 1)
	if err != nil {
		return asException(p.FunctionCode, err)
	}
	result := (current[0] & andMask) | (orMask &^ andMask)
	if err := f.registers.WriteRegisters(register.HoldingRegisters, addr, []uint16{result}); err != nil {
		return asException(p.FunctionCode, err)
	}
	return pdu.EncodeMaskWriteRegisterResponse(addr, andMask, orMask)
}

func (f *FSM) dispatchReadWriteMultiple(p pdu.PDU) pdu.PDU {
	args, err := pdu.ParseReadWriteMultipleRequest(p)
	if err != nil {
		return asException(p.FunctionCode, err)
	}
	// Write executes before read, per the Modbus application protocol
	// (the read reflects the just-written values when ranges overlap).
	if err := f.registers.WriteRegisters(register.HoldingRegisters, args.WriteAddress, args.WriteValues); err != nil {
		return asException(p.FunctionCode, err)
	}
	regs, err := f.registers.ReadRegisters(register.HoldingRegisters, args.ReadAddress, args.ReadQuantity)
	if err != nil {
		return asException(p.FunctionCode, err)
	}
	return pdu.EncodeReadRegistersResponse(p.FunctionCode, regs)
}
