package framing

import (
	"encoding/binary"
	"fmt"

	"github.com/modbuscore/modbuscore/core"
	"github.com/modbuscore/modbuscore/pdu"
)

// MBAPHeaderSize is the fixed 7-byte MBAP header: transaction id (2),
// protocol id (2), length (2), unit id (1).
const MBAPHeaderSize = 7

// EncodeMBAP builds an MBAP ADU: transaction_id, protocol_id=0,
// length = 1+len(pdu), unit_id, pdu.
func EncodeMBAP(transactionID uint16, unitID uint8, p pdu.PDU) []byte {
	pb := p.Bytes()
	adu := make([]byte, MBAPHeaderSize+len(pb))
	binary.BigEndian.PutUint16(adu[0:2], transactionID)
	binary.BigEndian.PutUint16(adu[2:4], 0)
	binary.BigEndian.PutUint16(adu[4:6], uint16(1+len(pb)))
	adu[6] = unitID
	copy(adu[7:], pb)
	return adu
}

// MBAPExpectedLength inspects a partial MBAP buffer and returns how many
// total bytes the full ADU will need once the length field is known; ok
// is false if fewer than 6 bytes (header minus unit id) are available
// yet — not an error, the caller must read more (spec §4.2).
func MBAPExpectedLength(partial []byte) (total int, ok bool) {
	if len(partial) < 6 {
		return 0, false
	}
	length := binary.BigEndian.Uint16(partial[4:6])
	return 6 + int(length), true
}

// DecodeMBAP validates and splits a complete MBAP ADU (exactly
// MBAPExpectedLength(adu) bytes).
func DecodeMBAP(adu []byte) (transactionID uint16, unitID uint8, p pdu.PDU, err error) {
	if len(adu) < MBAPHeaderSize {
		return 0, 0, pdu.PDU{}, &FramingError{Outcome: core.OutcomeDecodingError, Msg: fmt.Sprintf("mbap frame %d bytes, need >= %d", len(adu), MBAPHeaderSize)}
	}
	tid := binary.BigEndian.Uint16(adu[0:2])
	protocolID := binary.BigEndian.Uint16(adu[2:4])
	length := binary.BigEndian.Uint16(adu[4:6])
	if protocolID != 0 {
		return 0, 0, pdu.PDU{}, &FramingError{Outcome: core.OutcomeDecodingError, Msg: fmt.Sprintf("protocol id %#04x != 0", protocolID)}
	}
	if int(length)+6 != len(adu) {
		return 0, 0, pdu.PDU{}, &FramingError{Outcome: core.OutcomeDecodingError, Msg: fmt.Sprintf("length field %d inconsistent with adu size %d", length, len(adu))}
	}
	parsed, perr := pdu.Parse(adu[7:])
	if perr != nil {
		return 0, 0, pdu.PDU{}, &FramingError{Outcome: core.OutcomeDecodingError, Msg: perr.Error()}
	}
	return tid, adu[6], parsed, nil
}

// MBAPDecoder is the re-entrant MBAP receive accumulator: it buffers
// bytes until MBAPExpectedLength can be resolved and then until that
// many bytes have arrived, mirroring RTUDecoder/ASCIIDecoder's Feed/
// Poll/Take shape for the client/server FSMs (spec §4.2).
type MBAPDecoder struct {
	buf []byte
}

// NewMBAPDecoder constructs an empty MBAP decoder.
func NewMBAPDecoder() *MBAPDecoder { return &MBAPDecoder{} }

// Feed appends newly-received bytes.
func (d *MBAPDecoder) Feed(b []byte) { d.buf = append(d.buf, b...) }

// Poll reports whether a complete ADU is ready to Take.
func (d *MBAPDecoder) Poll() bool {
	total, ok := MBAPExpectedLength(d.buf)
	return ok && len(d.buf) >= total
}

// Take returns the complete ADU and retains any trailing bytes of the
// next frame already present in the buffer.
func (d *MBAPDecoder) Take() []byte {
	total, ok := MBAPExpectedLength(d.buf)
	if !ok || len(d.buf) < total {
		return nil
	}
	out := make([]byte, total)
	copy(out, d.buf[:total])
	d.buf = d.buf[total:]
	return out
}
