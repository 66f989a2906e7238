package pdu

import (
	"encoding/binary"
	"fmt"

	"github.com/modbuscore/modbuscore/core"
)

// ReadArgs is the common (address, quantity) argument pair of the four
// read function codes.
type ReadArgs struct {
	Address  uint16
	Quantity uint16
}

func validateReadQuantity(fc core.FunctionCode, qty uint16) error {
	var max uint16
	switch fc {
	case core.FuncReadCoils, core.FuncReadDiscreteInputs:
		max = core.MaxReadCoils
	case core.FuncReadHoldingRegisters, core.FuncReadInputRegisters:
		max = core.MaxReadRegisters
	default:
		return fmt.Errorf("pdu: %s does not take a read quantity", fc)
	}
	if qty == 0 || qty > max {
		return core.NewLocalError(fc, core.OutcomeInvalidArgument,
			fmt.Sprintf("quantity %d out of range 1..%d", qty, max))
	}
	return nil
}

// EncodeReadRequest builds a request PDU for FC 0x01/0x02/0x03/0x04.
func EncodeReadRequest(fc core.FunctionCode, addr, qty uint16) (PDU, error) {
	if err := validateReadQuantity(fc, qty); err != nil {
		return PDU{}, err
	}
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], addr)
	binary.BigEndian.PutUint16(payload[2:4], qty)
	return PDU{FunctionCode: fc, Payload: payload}, nil
}

// ParseReadRequest parses a request PDU for FC 0x01/0x02/0x03/0x04,
// as seen server-side.
func ParseReadRequest(p PDU) (ReadArgs, error) {
	if len(p.Payload) != 4 {
		return ReadArgs{}, core.NewLocalError(p.FunctionCode, core.OutcomeDecodingError,
			fmt.Sprintf("read request payload %d bytes, want 4", len(p.Payload)))
	}
	return ReadArgs{
		Address:  binary.BigEndian.Uint16(p.Payload[0:2]),
		Quantity: binary.BigEndian.Uint16(p.Payload[2:4]),
	}, nil
}

// EncodeWriteSingleCoilRequest builds FC 0x05.
func EncodeWriteSingleCoilRequest(addr uint16, value bool) PDU {
	v := uint16(0x0000)
	if value {
		v = 0xFF00
	}
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], addr)
	binary.BigEndian.PutUint16(payload[2:4], v)
	return PDU{FunctionCode: core.FuncWriteSingleCoil, Payload: payload}
}

// ParseWriteSingleCoilRequest parses FC 0x05.
func ParseWriteSingleCoilRequest(p PDU) (addr uint16, value bool, err error) {
	if len(p.Payload) != 4 {
		return 0, false, core.NewLocalError(p.FunctionCode, core.OutcomeDecodingError, "write single coil payload must be 4 bytes")
	}
	addr = binary.BigEndian.Uint16(p.Payload[0:2])
	v := binary.BigEndian.Uint16(p.Payload[2:4])
	switch v {
	case 0x0000:
		value = false
	case 0xFF00:
		value = true
	default:
		return 0, false, core.NewLocalError(p.FunctionCode, core.OutcomeIllegalDataValue,
			fmt.Sprintf("coil value %#04x must be 0x0000 or 0xFF00", v))
	}
	return addr, value, nil
}

// EncodeWriteSingleRegisterRequest builds FC 0x06.
func EncodeWriteSingleRegisterRequest(addr, value uint16) PDU {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], addr)
	binary.BigEndian.PutUint16(payload[2:4], value)
	return PDU{FunctionCode: core.FuncWriteSingleRegister, Payload: payload}
}

// ParseWriteSingleRegisterRequest parses FC 0x06.
func ParseWriteSingleRegisterRequest(p PDU) (addr, value uint16, err error) {
	if len(p.Payload) != 4 {
		return 0, 0, core.NewLocalError(p.FunctionCode, core.OutcomeDecodingError, "write single register payload must be 4 bytes")
	}
	return binary.BigEndian.Uint16(p.Payload[0:2]), binary.BigEndian.Uint16(p.Payload[2:4]), nil
}

// PackBits packs booleans LSB-first into bytes, as used by coil writes
// and coil read responses.
func PackBits(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// UnpackBits unpacks n LSB-first bits from data.
func UnpackBits(data []byte, n int) []bool {
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		out[i] = data[i/8]&(1<<uint(i%8)) != 0
	}
	return out
}

// EncodeWriteMultipleCoilsRequest builds FC 0x0F.
func EncodeWriteMultipleCoilsRequest(addr uint16, values []bool) (PDU, error) {
	qty := uint16(len(values))
	if qty == 0 || qty > core.MaxWriteCoils {
		return PDU{}, core.NewLocalError(core.FuncWriteMultipleCoils, core.OutcomeInvalidArgument,
			fmt.Sprintf("quantity %d out of range 1..%d", qty, core.MaxWriteCoils))
	}
	packed := PackBits(values)
	payload := make([]byte, 5+len(packed))
	binary.BigEndian.PutUint16(payload[0:2], addr)
	binary.BigEndian.PutUint16(payload[2:4], qty)
	payload[4] = byte(len(packed))
	copy(payload[5:], packed)
	return PDU{FunctionCode: core.FuncWriteMultipleCoils, Payload: payload}, nil
}

// ParseWriteMultipleCoilsRequest parses FC 0x0F.
func ParseWriteMultipleCoilsRequest(p PDU) (addr uint16, values []bool, err error) {
	if len(p.Payload) < 5 {
		return 0, nil, core.NewLocalError(p.FunctionCode, core.OutcomeDecodingError, "write multiple coils payload too short")
	}
	addr = binary.BigEndian.Uint16(p.Payload[0:2])
	qty := binary.BigEndian.Uint16(p.Payload[2:4])
	byteCount := p.Payload[4]
	data := p.Payload[5:]
	if qty == 0 || qty > core.MaxWriteCoils {
		return 0, nil, core.NewLocalError(p.FunctionCode, core.OutcomeIllegalDataValue,
			fmt.Sprintf("quantity %d out of range 1..%d", qty, core.MaxWriteCoils))
	}
	if int(byteCount) != len(data) || int(byteCount) != (int(qty)+7)/8 {
		return 0, nil, core.NewLocalError(p.FunctionCode, core.OutcomeIllegalDataValue,
			fmt.Sprintf("byte count %d inconsistent with quantity %d and payload %d bytes", byteCount, qty, len(data)))
	}
	return addr, UnpackBits(data, int(qty)), nil
}

// EncodeWriteMultipleRegistersRequest builds FC 0x10.
func EncodeWriteMultipleRegistersRequest(addr uint16, values []uint16) (PDU, error) {
	qty := uint16(len(values))
	if qty == 0 || qty > core.MaxWriteRegisters {
		return PDU{}, core.NewLocalError(core.FuncWriteMultipleRegisters, core.OutcomeInvalidArgument,
			fmt.Sprintf("quantity %d out of range 1..%d", qty, core.MaxWriteRegisters))
	}
	payload := make([]byte, 5+2*len(values))
	binary.BigEndian.PutUint16(payload[0:2], addr)
	binary.BigEndian.PutUint16(payload[2:4], qty)
	payload[4] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(payload[5+2*i:7+2*i], v)
	}
	return PDU{FunctionCode: core.FuncWriteMultipleRegisters, Payload: payload}, nil
}

// ParseWriteMultipleRegistersRequest parses FC 0x10.
func ParseWriteMultipleRegistersRequest(p PDU) (addr uint16, values []uint16, err error) {
	if len(p.Payload) < 5 {
		return 0, nil, core.NewLocalError(p.FunctionCode, core.OutcomeDecodingError, "write multiple registers payload too short")
	}
	addr = binary.BigEndian.Uint16(p.Payload[0:2])
	qty := binary.BigEndian.Uint16(p.Payload[2:4])
	byteCount := p.Payload[4]
	data := p.Payload[5:]
	if qty == 0 || qty > core.MaxWriteRegisters {
		return 0, nil, core.NewLocalError(p.FunctionCode, core.OutcomeIllegalDataValue,
			fmt.Sprintf("quantity %d out of range 1..%d", qty, core.MaxWriteRegisters))
	}
	if int(byteCount) != len(data) || byteCount != byte(2*qty) {
		return 0, nil, core.NewLocalError(p.FunctionCode, core.OutcomeIllegalDataValue,
			fmt.Sprintf("byte count %d inconsistent with quantity %d", byteCount, qty))
	}
	values = make([]uint16, qty)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(data[2*i : 2*i+2])
	}
	return addr, values, nil
}

// EncodeMaskWriteRegisterRequest builds FC 0x16.
func EncodeMaskWriteRegisterRequest(addr, andMask, orMask uint16) PDU {
	payload := make([]byte, 6)
	binary.BigEndian.PutUint16(payload[0:2], addr)
	binary.BigEndian.PutUint16(payload[2:4], andMask)
	binary.BigEndian.PutUint16(payload[4:6], orMask)
	return PDU{FunctionCode: core.FuncMaskWriteRegister, Payload: payload}
}

// ParseMaskWriteRegisterRequest parses FC 0x16.
func ParseMaskWriteRegisterRequest(p PDU) (addr, andMask, orMask uint16, err error) {
	if len(p.Payload) != 6 {
		return 0, 0, 0, core.NewLocalError(p.FunctionCode, core.OutcomeDecodingError, "mask write register payload must be 6 bytes")
	}
	return binary.BigEndian.Uint16(p.Payload[0:2]),
		binary.BigEndian.Uint16(p.Payload[2:4]),
		binary.BigEndian.Uint16(p.Payload[4:6]), nil
}

// ReadWriteMultipleArgs is the argument set of FC 0x17.
type ReadWriteMultipleArgs struct {
	ReadAddress  uint16
	ReadQuantity uint16
	WriteAddress uint16
	WriteValues  []uint16
}

// EncodeReadWriteMultipleRequest builds FC 0x17.
func EncodeReadWriteMultipleRequest(a ReadWriteMultipleArgs) (PDU, error) {
	if a.ReadQuantity == 0 || a.ReadQuantity > core.MaxReadWriteRegsRead {
		return PDU{}, core.NewLocalError(core.FuncReadWriteMultipleRegs, core.OutcomeInvalidArgument,
			fmt.Sprintf("read quantity %d out of range 1..%d", a.ReadQuantity, core.MaxReadWriteRegsRead))
	}
	wqty := len(a.WriteValues)
	if wqty == 0 || wqty > core.MaxReadWriteRegsWrite {
		return PDU{}, core.NewLocalError(core.FuncReadWriteMultipleRegs, core.OutcomeInvalidArgument,
			fmt.Sprintf("write quantity %d out of range 1..%d", wqty, core.MaxReadWriteRegsWrite))
	}
	payload := make([]byte, 9+2*wqty)
	binary.BigEndian.PutUint16(payload[0:2], a.ReadAddress)
	binary.BigEndian.PutUint16(payload[2:4], a.ReadQuantity)
	binary.BigEndian.PutUint16(payload[4:6], a.WriteAddress)
	binary.BigEndian.PutUint16(payload[6:8], uint16(wqty))
	payload[8] = byte(2 * wqty)
	for i, v := range a.WriteValues {
		binary.BigEndian.PutUint16(payload[9+2*i:11+2*i], v)
	}
	return PDU{FunctionCode: core.FuncReadWriteMultipleRegs, Payload: payload}, nil
}

// ParseReadWriteMultipleRequest parses FC 0x17.
func ParseReadWriteMultipleRequest(p PDU) (ReadWriteMultipleArgs, error) {
	if len(p.Payload) < 9 {
		return ReadWriteMultipleArgs{}, core.NewLocalError(p.FunctionCode, core.OutcomeDecodingError, "read/write multiple payload too short")
	}
	readAddr := binary.BigEndian.Uint16(p.Payload[0:2])
	readQty := binary.BigEndian.Uint16(p.Payload[2:4])
	writeAddr := binary.BigEndian.Uint16(p.Payload[4:6])
	writeQty := binary.BigEndian.Uint16(p.Payload[6:8])
	byteCount := p.Payload[8]
	data := p.Payload[9:]
	if readQty == 0 || readQty > core.MaxReadWriteRegsRead {
		return ReadWriteMultipleArgs{}, core.NewLocalError(p.FunctionCode, core.OutcomeIllegalDataValue, "invalid read quantity")
	}
	if writeQty == 0 || writeQty > core.MaxReadWriteRegsWrite {
		return ReadWriteMultipleArgs{}, core.NewLocalError(p.FunctionCode, core.OutcomeIllegalDataValue, "invalid write quantity")
	}
	if int(byteCount) != len(data) || byteCount != byte(2*writeQty) {
		return ReadWriteMultipleArgs{}, core.NewLocalError(p.FunctionCode, core.OutcomeIllegalDataValue, "byte count inconsistent")
	}
	values := make([]uint16, writeQty)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(data[2*i : 2*i+2])
	}
	return ReadWriteMultipleArgs{readAddr, readQty, writeAddr, values}, nil
}

// EncodeReadExceptionStatusRequest builds FC 0x07 (no payload).
func EncodeReadExceptionStatusRequest() PDU {
	return PDU{FunctionCode: core.FuncReadExceptionStatus}
}

// EncodeReportServerIDRequest builds FC 0x11 (no payload).
func EncodeReportServerIDRequest() PDU {
	return PDU{FunctionCode: core.FuncReportServerID}
}
