package transport

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.bug.st/serial"
)

// SerialConfig holds serial port configuration, grounded on the
// teacher's transport.SerialConfig (transport/serial.go).
type SerialConfig struct {
	Port     string
	BaudRate int
	DataBits int
	StopBits serial.StopBits
	Parity   serial.Parity
}

// NewSerialConfig validates and builds a SerialConfig from primitive
// values, as the teacher's NewSerialConfig does.
func NewSerialConfig(port string, baudRate, dataBits, stopBits int, parity string) (*SerialConfig, error) {
	var sb serial.StopBits
	switch stopBits {
	case 1:
		sb = serial.OneStopBit
	case 2:
		sb = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("invalid stop bits: %d (must be 1 or 2)", stopBits)
	}

	var p serial.Parity
	switch strings.ToUpper(parity) {
	case "N", "NONE":
		p = serial.NoParity
	case "E", "EVEN":
		p = serial.EvenParity
	case "O", "ODD":
		p = serial.OddParity
	default:
		return nil, fmt.Errorf("invalid parity: %s (must be N, E, or O)", parity)
	}

	return &SerialConfig{Port: port, BaudRate: baudRate, DataBits: dataBits, StopBits: sb, Parity: p}, nil
}

// HasParityBit reports whether the configured parity adds a bit to each
// character, for framing's character-time math.
func (c *SerialConfig) HasParityBit() bool { return c.Parity != serial.NoParity }

// StopBitCount returns 1 or 2.
func (c *SerialConfig) StopBitCount() int {
	if c.StopBits == serial.TwoStopBits {
		return 2
	}
	return 1
}

// SerialTransport is a non-blocking Transport backed by go.bug.st/serial.
// Non-blocking behavior is approximated by a zero read timeout: each
// Receive call returns immediately with whatever bytes (possibly zero)
// the driver already has buffered, rather than the teacher's blocking
// frame-accumulation loop (transport/serial.go SendRequest).
type SerialTransport struct {
	config *SerialConfig
	port   serial.Port
	clock  *RealClock
}

// NewSerialTransport opens the serial port per config.
func NewSerialTransport(config *SerialConfig) (*SerialTransport, error) {
	mode := &serial.Mode{
		BaudRate: config.BaudRate,
		DataBits: config.DataBits,
		Parity:   config.Parity,
		StopBits: config.StopBits,
	}
	port, err := serial.Open(config.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("modbuscore: open serial port %s: %w", config.Port, err)
	}
	if err := port.SetReadTimeout(0); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("modbuscore: set non-blocking read timeout: %w", err)
	}
	return &SerialTransport{config: config, port: port, clock: NewRealClock()}, nil
}

// Close releases the underlying serial port.
func (t *SerialTransport) Close() error { return t.port.Close() }

// Send writes bytes without blocking, per the Transport contract.
func (t *SerialTransport) Send(b []byte) SendResult {
	n, err := t.port.Write(b)
	if err != nil {
		return SendResult{Err: fmt.Errorf("modbuscore: serial write: %w", err)}
	}
	return SendResult{Accepted: n}
}

// Receive reads whatever is already buffered without blocking.
func (t *SerialTransport) Receive(buf []byte) RecvResult {
	n, err := t.port.Read(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return RecvResult{WouldBlock: true}
		}
		return RecvResult{Err: fmt.Errorf("modbuscore: serial read: %w", err)}
	}
	if n == 0 {
		return RecvResult{WouldBlock: true}
	}
	return RecvResult{N: n}
}

// NowMS returns a monotonic millisecond timestamp.
func (t *SerialTransport) NowMS() uint64 { return t.clock.NowMS() }

// Yield is a no-op on this port; hosted OSes schedule cooperatively
// already.
func (t *SerialTransport) Yield() { time.Sleep(0) }
