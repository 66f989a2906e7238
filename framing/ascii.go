package framing

import (
	"encoding/hex"
	"fmt"

	"github.com/modbuscore/modbuscore/core"
	"github.com/modbuscore/modbuscore/pdu"
)

const (
	asciiStart = ':'
	asciiCR    = '\r'
	asciiLF    = '\n'
)

// EncodeASCII builds a Modbus ASCII frame: ':' + hex(unit_id||pdu||lrc) +
// CR LF.
func EncodeASCII(unitID uint8, p pdu.PDU) []byte {
	pb := p.Bytes()
	body := make([]byte, 1+len(pb))
	body[0] = unitID
	copy(body[1:], pb)
	lrc := core.LRC(body)

	hexBody := make([]byte, hex.EncodedLen(len(body)+1))
	hex.Encode(hexBody, append(body, lrc))

	out := make([]byte, 0, 1+len(hexBody)+2)
	out = append(out, asciiStart)
	out = append(out, hexBody...)
	out = append(out, asciiCR, asciiLF)
	return bytesToUpper(out)
}

func bytesToUpper(b []byte) []byte {
	for i, c := range b {
		if c >= 'a' && c <= 'f' {
			b[i] = c - ('a' - 'A')
		}
	}
	return b
}

// DecodeASCII parses a complete ASCII frame (including the leading ':'
// and trailing CR LF) and validates hex parity and the LRC.
func DecodeASCII(frame []byte) (unitID uint8, p pdu.PDU, err error) {
	if len(frame) < 1+2+2 || frame[0] != asciiStart {
		return 0, pdu.PDU{}, &FramingError{Outcome: core.OutcomeMalformedFrame, Msg: "missing start-of-frame ':'"}
	}
	if len(frame) < 2 || frame[len(frame)-2] != asciiCR || frame[len(frame)-1] != asciiLF {
		return 0, pdu.PDU{}, &FramingError{Outcome: core.OutcomeMalformedFrame, Msg: "missing trailing CR LF"}
	}
	hexBody := frame[1 : len(frame)-2]
	if len(hexBody)%2 != 0 {
		return 0, pdu.PDU{}, &FramingError{Outcome: core.OutcomeMalformedFrame, Msg: "odd number of hex digits"}
	}
	body := make([]byte, len(hexBody)/2)
	if _, err := hex.Decode(body, hexBody); err != nil {
		return 0, pdu.PDU{}, &FramingError{Outcome: core.OutcomeMalformedFrame, Msg: fmt.Sprintf("non-hex character: %v", err)}
	}
	if len(body) < 3 { // unit + fc + lrc at minimum
		return 0, pdu.PDU{}, &FramingError{Outcome: core.OutcomeMalformedFrame, Msg: "frame too short"}
	}
	data, gotLRC := body[:len(body)-1], body[len(body)-1]
	wantLRC := core.LRC(data)
	if wantLRC != gotLRC {
		return 0, pdu.PDU{}, &FramingError{Outcome: core.OutcomeChecksum, Msg: fmt.Sprintf("lrc mismatch: want %#02x got %#02x", wantLRC, gotLRC)}
	}
	parsed, perr := pdu.Parse(data[1:])
	if perr != nil {
		return 0, pdu.PDU{}, &FramingError{Outcome: core.OutcomeMalformedFrame, Msg: perr.Error()}
	}
	return data[0], parsed, nil
}

// ASCIIDecoderState mirrors RTUDecoderState for the scan-for-':'-then-
// accumulate-until-CRLF discipline of spec §4.2.
type ASCIIDecoderState int

const (
	ASCIIIdle ASCIIDecoderState = iota
	ASCIIReceiving
	ASCIIFrameReady
)

// ASCIIDecoder is the re-entrant ASCII receive state machine.
type ASCIIDecoder struct {
	state ASCIIDecoderState
	buf   []byte
}

// NewASCIIDecoder constructs an idle ASCII decoder.
func NewASCIIDecoder() *ASCIIDecoder { return &ASCIIDecoder{state: ASCIIIdle} }

// Feed processes newly-received bytes one at a time, scanning for the
// start-of-frame marker and then accumulating until CR LF. Returns true
// once a complete frame is ready (Take()).
func (d *ASCIIDecoder) Feed(b []byte) bool {
	for _, c := range b {
		switch d.state {
		case ASCIIIdle:
			if c == asciiStart {
				d.buf = []byte{c}
				d.state = ASCIIReceiving
			}
		case ASCIIReceiving:
			d.buf = append(d.buf, c)
			if len(d.buf) >= 2 && d.buf[len(d.buf)-2] == asciiCR && d.buf[len(d.buf)-1] == asciiLF {
				d.state = ASCIIFrameReady
				return true
			}
		case ASCIIFrameReady:
			// caller hasn't taken the previous frame yet; drop extra bytes
		}
	}
	return d.state == ASCIIFrameReady
}

// Take returns the accumulated frame and resets to Idle.
func (d *ASCIIDecoder) Take() []byte {
	out := d.buf
	d.buf = nil
	d.state = ASCIIIdle
	return out
}

// State returns the decoder's current state.
func (d *ASCIIDecoder) State() ASCIIDecoderState { return d.state }
