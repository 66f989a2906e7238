// Package pdu implements the Modbus Protocol Data Unit: function code,
// payload, and the per-function-code encode/parse helpers, strictly
// bounds-checked per spec §4.1.
package pdu

import (
	"fmt"

	"github.com/modbuscore/modbuscore/core"
)

// PDU is a function-code-plus-payload message, at most core.MaxPDUSize
// bytes when serialized.
type PDU struct {
	FunctionCode core.FunctionCode
	Payload      []byte
}

// Bytes serializes the PDU.
func (p PDU) Bytes() []byte {
	out := make([]byte, 1+len(p.Payload))
	out[0] = byte(p.FunctionCode)
	copy(out[1:], p.Payload)
	return out
}

// Size returns the serialized length.
func (p PDU) Size() int { return 1 + len(p.Payload) }

// IsException reports whether this is an exception response PDU.
func (p PDU) IsException() bool { return p.FunctionCode.IsException() }

// Parse splits a raw byte slice into a PDU. It does not validate the
// payload shape for any particular function code; callers use the
// per-FC Parse* helpers for that.
func Parse(data []byte) (PDU, error) {
	if len(data) < 1 {
		return PDU{}, fmt.Errorf("pdu: empty frame")
	}
	if len(data) > core.MaxPDUSize {
		return PDU{}, fmt.Errorf("pdu: %d bytes exceeds max %d", len(data), core.MaxPDUSize)
	}
	payload := make([]byte, len(data)-1)
	copy(payload, data[1:])
	return PDU{FunctionCode: core.FunctionCode(data[0]), Payload: payload}, nil
}

// EncodeException builds the 2-byte exception response PDU for fc/code.
func EncodeException(fc core.FunctionCode, code core.ExceptionCode) PDU {
	return PDU{FunctionCode: fc.AsException(), Payload: []byte{byte(code)}}
}

// ParseException extracts the original function code and exception code
// from an exception response PDU.
func ParseException(p PDU) (core.FunctionCode, core.ExceptionCode, error) {
	if !p.IsException() {
		return 0, 0, fmt.Errorf("pdu: not an exception response")
	}
	if len(p.Payload) < 1 {
		return 0, 0, fmt.Errorf("pdu: exception response missing code byte")
	}
	return p.FunctionCode.Base(), core.ExceptionCode(p.Payload[0]), nil
}
