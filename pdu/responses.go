package pdu

import (
	"encoding/binary"
	"fmt"

	"github.com/modbuscore/modbuscore/core"
)

// EncodeReadBitsResponse builds a response PDU for FC 0x01/0x02.
func EncodeReadBitsResponse(fc core.FunctionCode, bits []bool) PDU {
	packed := PackBits(bits)
	payload := make([]byte, 1+len(packed))
	payload[0] = byte(len(packed))
	copy(payload[1:], packed)
	return PDU{FunctionCode: fc, Payload: payload}
}

// ParseReadBitsResponse parses a response PDU for FC 0x01/0x02, given the
// quantity that was requested.
func ParseReadBitsResponse(p PDU, qty uint16) ([]bool, error) {
	if len(p.Payload) < 1 {
		return nil, core.NewLocalError(p.FunctionCode, core.OutcomeDecodingError, "read bits response empty")
	}
	byteCount := p.Payload[0]
	data := p.Payload[1:]
	if int(byteCount) != len(data) || int(byteCount) != (int(qty)+7)/8 {
		return nil, core.NewLocalError(p.FunctionCode, core.OutcomeDecodingError,
			fmt.Sprintf("byte count %d inconsistent with quantity %d and payload %d bytes", byteCount, qty, len(data)))
	}
	return UnpackBits(data, int(qty)), nil
}

// EncodeReadRegistersResponse builds a response PDU for FC 0x03/0x04/0x17.
func EncodeReadRegistersResponse(fc core.FunctionCode, regs []uint16) PDU {
	payload := make([]byte, 1+2*len(regs))
	payload[0] = byte(2 * len(regs))
	for i, v := range regs {
		binary.BigEndian.PutUint16(payload[1+2*i:3+2*i], v)
	}
	return PDU{FunctionCode: fc, Payload: payload}
}

// ParseReadRegistersResponse parses a response PDU for FC 0x03/0x04/0x17,
// given the quantity that was requested.
func ParseReadRegistersResponse(p PDU, qty uint16) ([]uint16, error) {
	if len(p.Payload) < 1 {
		return nil, core.NewLocalError(p.FunctionCode, core.OutcomeDecodingError, "read registers response empty")
	}
	byteCount := p.Payload[0]
	data := p.Payload[1:]
	if int(byteCount) != len(data) || byteCount != byte(2*qty) {
		return nil, core.NewLocalError(p.FunctionCode, core.OutcomeDecodingError,
			fmt.Sprintf("byte count %d inconsistent with quantity %d", byteCount, qty))
	}
	regs := make([]uint16, qty)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(data[2*i : 2*i+2])
	}
	return regs, nil
}

// EncodeWriteSingleCoilResponse builds the FC 0x05 response, an echo of
// the request.
func EncodeWriteSingleCoilResponse(addr uint16, value bool) PDU {
	return EncodeWriteSingleCoilRequest(addr, value)
}

// ParseWriteSingleCoilResponse parses the FC 0x05 response.
func ParseWriteSingleCoilResponse(p PDU) (addr uint16, value bool, err error) {
	return ParseWriteSingleCoilRequest(p)
}

// EncodeWriteSingleRegisterResponse builds the FC 0x06 response, an echo
// of the request.
func EncodeWriteSingleRegisterResponse(addr, value uint16) PDU {
	return EncodeWriteSingleRegisterRequest(addr, value)
}

// ParseWriteSingleRegisterResponse parses the FC 0x06 response.
func ParseWriteSingleRegisterResponse(p PDU) (addr, value uint16, err error) {
	return ParseWriteSingleRegisterRequest(p)
}

// EncodeWriteMultipleResponse builds the FC 0x0F/0x10 response:
// function code, address, quantity.
func EncodeWriteMultipleResponse(fc core.FunctionCode, addr, qty uint16) PDU {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], addr)
	binary.BigEndian.PutUint16(payload[2:4], qty)
	return PDU{FunctionCode: fc, Payload: payload}
}

// ParseWriteMultipleResponse parses the FC 0x0F/0x10 response.
func ParseWriteMultipleResponse(p PDU) (addr, qty uint16, err error) {
	if len(p.Payload) != 4 {
		return 0, 0, core.NewLocalError(p.FunctionCode, core.OutcomeDecodingError, "write multiple response payload must be 4 bytes")
	}
	return binary.BigEndian.Uint16(p.Payload[0:2]), binary.BigEndian.Uint16(p.Payload[2:4]), nil
}

// EncodeMaskWriteRegisterResponse builds the FC 0x16 response, an echo of
// the request.
func EncodeMaskWriteRegisterResponse(addr, andMask, orMask uint16) PDU {
	return EncodeMaskWriteRegisterRequest(addr, andMask, orMask)
}

// ParseMaskWriteRegisterResponse parses the FC 0x16 response.
func ParseMaskWriteRegisterResponse(p PDU) (addr, andMask, orMask uint16, err error) {
	return ParseMaskWriteRegisterRequest(p)
}

// EncodeReadExceptionStatusResponse builds the FC 0x07 response.
func EncodeReadExceptionStatusResponse(status uint8) PDU {
	return PDU{FunctionCode: core.FuncReadExceptionStatus, Payload: []byte{status}}
}

// ParseReadExceptionStatusResponse parses the FC 0x07 response.
func ParseReadExceptionStatusResponse(p PDU) (uint8, error) {
	if len(p.Payload) != 1 {
		return 0, core.NewLocalError(p.FunctionCode, core.OutcomeDecodingError, "exception status response must be 1 byte")
	}
	return p.Payload[0], nil
}

// EncodeReportServerIDResponse builds the FC 0x11 response: byte count,
// id bytes, run indicator (0xFF running / 0x00 stopped).
func EncodeReportServerIDResponse(serverID []byte, running bool) PDU {
	payload := make([]byte, 2+len(serverID))
	payload[0] = byte(1 + len(serverID))
	copy(payload[1:], serverID)
	if running {
		payload[len(payload)-1] = 0xFF
	}
	return PDU{FunctionCode: core.FuncReportServerID, Payload: payload}
}

// ParseReportServerIDResponse parses the FC 0x11 response.
func ParseReportServerIDResponse(p PDU) (serverID []byte, running bool, err error) {
	if len(p.Payload) < 2 {
		return nil, false, core.NewLocalError(p.FunctionCode, core.OutcomeDecodingError, "report server id response too short")
	}
	byteCount := int(p.Payload[0])
	rest := p.Payload[1:]
	if byteCount != len(rest) {
		return nil, false, core.NewLocalError(p.FunctionCode, core.OutcomeDecodingError, "report server id byte count inconsistent")
	}
	serverID = rest[:len(rest)-1]
	running = rest[len(rest)-1] == 0xFF
	return serverID, running, nil
}
