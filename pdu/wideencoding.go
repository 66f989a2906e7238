package pdu

import "math"

// ByteOrder32 names one of the four conventional byte orderings used by
// field devices to pack a 32-bit value into two consecutive 16-bit
// registers, after the libmodbus convention.
type ByteOrder32 uint8

const (
	// ABCD: big-endian words, big-endian bytes within each word.
	ABCD ByteOrder32 = iota
	// BADC: big-endian words, byte-swapped within each word.
	BADC
	// CDAB: little-endian words, big-endian bytes within each word.
	CDAB
	// DCBA: little-endian words, byte-swapped within each word (fully
	// little-endian).
	DCBA
)

func swapBytes(w uint16) uint16 { return w>>8 | w<<8 }

// EncodeUint32 packs value into two registers per the given byte order.
func EncodeUint32(order ByteOrder32, value uint32) [2]uint16 {
	hi := uint16(value >> 16)
	lo := uint16(value)
	switch order {
	case ABCD:
		return [2]uint16{hi, lo}
	case BADC:
		return [2]uint16{swapBytes(hi), swapBytes(lo)}
	case CDAB:
		return [2]uint16{lo, hi}
	default: // DCBA
		return [2]uint16{swapBytes(lo), swapBytes(hi)}
	}
}

// DecodeUint32 unpacks two registers into a uint32 per the given byte
// order.
func DecodeUint32(order ByteOrder32, regs [2]uint16) uint32 {
	switch order {
	case ABCD:
		return uint32(regs[0])<<16 | uint32(regs[1])
	case BADC:
		return uint32(swapBytes(regs[0]))<<16 | uint32(swapBytes(regs[1]))
	case CDAB:
		return uint32(regs[1])<<16 | uint32(regs[0])
	default: // DCBA
		return uint32(swapBytes(regs[1]))<<16 | uint32(swapBytes(regs[0]))
	}
}

// EncodeFloat32 packs an IEEE-754 float into two registers per the given
// byte order.
func EncodeFloat32(order ByteOrder32, value float32) [2]uint16 {
	return EncodeUint32(order, math.Float32bits(value))
}

// DecodeFloat32 unpacks two registers into an IEEE-754 float per the
// given byte order.
func DecodeFloat32(order ByteOrder32, regs [2]uint16) float32 {
	return math.Float32frombits(DecodeUint32(order, regs))
}
