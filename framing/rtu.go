// Package framing implements the three Modbus wire framings — RTU,
// ASCII, and MBAP (TCP) — as pure encode/decode functions plus, for RTU,
// a re-entrant decoder state machine that can be fed bytes across
// repeated poll() calls without blocking (spec §4.2).
package framing

import (
	"fmt"
	"time"

	"github.com/modbuscore/modbuscore/core"
	"github.com/modbuscore/modbuscore/pdu"
)

// SilenceFloor is the minimum inter-frame silence enforced regardless of
// baud rate, per spec §3/§4.2 (1.75ms floor for baud > 19200).
const SilenceFloor = 1750 * time.Microsecond

// CharTime returns the transmission time of one serial character at the
// given line parameters, grounded on the teacher's
// calculateCharacterTime (transport/serial.go).
func CharTime(baudRate, dataBits, stopBits int, parityBit bool) time.Duration {
	bitsPerChar := 1 + dataBits + stopBits
	if parityBit {
		bitsPerChar++
	}
	nsPerBit := int64(1_000_000_000) / int64(baudRate)
	return time.Duration(int64(bitsPerChar) * nsPerBit)
}

// SilenceInterval returns the 3.5-character-time inter-frame silence
// threshold for the given line parameters, floored per spec §3.
func SilenceInterval(baudRate, dataBits, stopBits int, parityBit bool) time.Duration {
	d := time.Duration(float64(CharTime(baudRate, dataBits, stopBits, parityBit)) * 3.5)
	if d < SilenceFloor {
		return SilenceFloor
	}
	return d
}

// InterCharTimeout returns the 1.5-character-time gap used to detect a
// mid-frame byte boundary.
func InterCharTimeout(baudRate, dataBits, stopBits int, parityBit bool) time.Duration {
	return time.Duration(float64(CharTime(baudRate, dataBits, stopBits, parityBit)) * 1.5)
}

// EncodeRTU builds an RTU ADU: unit_id || pdu || crc16_le.
func EncodeRTU(unitID uint8, p pdu.PDU) []byte {
	pb := p.Bytes()
	adu := make([]byte, 1+len(pb)+2)
	adu[0] = unitID
	copy(adu[1:], pb)
	crc := core.CRC16(adu[:1+len(pb)])
	adu[len(adu)-2] = byte(crc)
	adu[len(adu)-1] = byte(crc >> 8)
	return adu
}

// DecodeRTU validates and splits a complete RTU ADU. Returns a
// *FramingError with Outcome Crc or MalformedFrame as appropriate;
// never mutates on error.
func DecodeRTU(adu []byte) (unitID uint8, p pdu.PDU, err error) {
	if len(adu) < 4 {
		return 0, pdu.PDU{}, &FramingError{Outcome: core.OutcomeMalformedFrame, Msg: fmt.Sprintf("rtu frame %d bytes, need >= 4", len(adu))}
	}
	body := adu[:len(adu)-2]
	wantCRC := core.CRC16(body)
	gotCRC := uint16(adu[len(adu)-2]) | uint16(adu[len(adu)-1])<<8
	if wantCRC != gotCRC {
		return 0, pdu.PDU{}, &FramingError{Outcome: core.OutcomeCrc, Msg: fmt.Sprintf("crc mismatch: want %#04x got %#04x", wantCRC, gotCRC)}
	}
	parsed, perr := pdu.Parse(body[1:])
	if perr != nil {
		return 0, pdu.PDU{}, &FramingError{Outcome: core.OutcomeMalformedFrame, Msg: perr.Error()}
	}
	return body[0], parsed, nil
}

// FramingError reports a framing-layer failure tagged with its outcome
// slot (spec §7).
type FramingError struct {
	Outcome core.OutcomeSlot
	Msg     string
}

func (e *FramingError) Error() string { return fmt.Sprintf("framing: %s: %s", e.Outcome, e.Msg) }

// RTUDecoderState is the re-entrant RTU receive state machine's current
// state (spec §4.2).
type RTUDecoderState int

const (
	RTUIdle RTUDecoderState = iota
	RTUReceiving
	RTUFrameReady
	RTUError
)

// RTUDecoder accumulates bytes from the RX ring across repeated Feed
// calls and reports a complete frame once silence ≥ 3.5 char-times is
// observed. It carries only a byte cursor and a last-activity
// timestamp, so it is safe to suspend and resume across poll steps
// (spec §4.2's re-entrancy requirement).
type RTUDecoder struct {
	state        RTUDecoderState
	buf          []byte
	lastActivity time.Time
	silence      time.Duration
}

// NewRTUDecoder constructs a decoder for the given line's silence
// interval.
func NewRTUDecoder(silence time.Duration) *RTUDecoder {
	return &RTUDecoder{state: RTUIdle, silence: silence}
}

// Feed appends newly-received bytes and records the activity time. It
// never blocks; it grows the internal buffer by the bytes fed, with no
// cap on the accumulated length.
func (d *RTUDecoder) Feed(b []byte, now time.Time) {
	if len(b) == 0 {
		return
	}
	d.buf = append(d.buf, b...)
	d.lastActivity = now
	d.state = RTUReceiving
}

// Poll checks whether enough silence has elapsed to consider the frame
// complete. When it returns true, Take() returns the accumulated bytes
// and resets the decoder to Idle.
func (d *RTUDecoder) Poll(now time.Time) bool {
	if d.state != RTUReceiving {
		return false
	}
	if len(d.buf) == 0 {
		return false
	}
	if now.Sub(d.lastActivity) >= d.silence {
		d.state = RTUFrameReady
		return true
	}
	return false
}

// Take returns the accumulated frame bytes and resets to Idle. Call
// only after Poll reports true.
func (d *RTUDecoder) Take() []byte {
	out := d.buf
	d.buf = nil
	d.state = RTUIdle
	return out
}

// State returns the decoder's current state.
func (d *RTUDecoder) State() RTUDecoderState { return d.state }
