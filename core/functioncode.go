// Package core holds the function codes, exception codes, outcome
// taxonomy, and checksum primitives shared by every other package in
// modbuscore.
package core

import "fmt"

// FunctionCode identifies a MODBUS operation. Bit 7 set marks an
// exception response.
type FunctionCode uint8

const (
	FuncReadCoils              FunctionCode = 0x01
	FuncReadDiscreteInputs     FunctionCode = 0x02
	FuncReadHoldingRegisters   FunctionCode = 0x03
	FuncReadInputRegisters     FunctionCode = 0x04
	FuncWriteSingleCoil        FunctionCode = 0x05
	FuncWriteSingleRegister    FunctionCode = 0x06
	FuncReadExceptionStatus    FunctionCode = 0x07
	FuncWriteMultipleCoils     FunctionCode = 0x0F
	FuncWriteMultipleRegisters FunctionCode = 0x10
	FuncReportServerID         FunctionCode = 0x11
	FuncMaskWriteRegister      FunctionCode = 0x16
	FuncReadWriteMultipleRegs  FunctionCode = 0x17
)

// Quantity limits per spec §3.
const (
	MaxReadCoils          = 2000
	MaxWriteCoils         = 1968
	MaxReadRegisters      = 125
	MaxWriteRegisters     = 123
	MaxReadWriteRegsRead  = 125
	MaxReadWriteRegsWrite = 121
	MaxPDUSize            = 253
)

// IsException reports whether bit 7 (the exception marker) is set.
func (fc FunctionCode) IsException() bool { return fc&0x80 != 0 }

// AsException sets the exception marker bit.
func (fc FunctionCode) AsException() FunctionCode { return fc | 0x80 }

// Base clears the exception marker bit, recovering the original FC.
func (fc FunctionCode) Base() FunctionCode { return fc &^ 0x80 }

func (fc FunctionCode) String() string {
	if fc.IsException() {
		return fmt.Sprintf("Exception(%s)", fc.Base().String())
	}
	switch fc {
	case FuncReadCoils:
		return "ReadCoils"
	case FuncReadDiscreteInputs:
		return "ReadDiscreteInputs"
	case FuncReadHoldingRegisters:
		return "ReadHoldingRegisters"
	case FuncReadInputRegisters:
		return "ReadInputRegisters"
	case FuncWriteSingleCoil:
		return "WriteSingleCoil"
	case FuncWriteSingleRegister:
		return "WriteSingleRegister"
	case FuncReadExceptionStatus:
		return "ReadExceptionStatus"
	case FuncWriteMultipleCoils:
		return "WriteMultipleCoils"
	case FuncWriteMultipleRegisters:
		return "WriteMultipleRegisters"
	case FuncReportServerID:
		return "ReportServerID"
	case FuncMaskWriteRegister:
		return "MaskWriteRegister"
	case FuncReadWriteMultipleRegs:
		return "ReadWriteMultipleRegisters"
	default:
		return fmt.Sprintf("Unknown(%#02x)", uint8(fc))
	}
}
