package transport

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// TCPTransport is a non-blocking Transport over a TCP connection,
// grounded on the teacher's transport/tcp.go TCPTransport (Connect,
// SendRequest using net.Dial / SetReadDeadline), restructured so
// Send/Receive each make one non-blocking attempt instead of the
// teacher's blocking round trip.
type TCPTransport struct {
	conn  net.Conn
	clock *RealClock
}

// DialTCP connects to address (host:port) with the given connect
// timeout.
func DialTCP(address string, connectTimeout time.Duration) (*TCPTransport, error) {
	conn, err := net.DialTimeout("tcp", address, connectTimeout)
	if err != nil {
		return nil, fmt.Errorf("modbuscore: dial %s: %w", address, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &TCPTransport{conn: conn, clock: NewRealClock()}, nil
}

// NewTCPTransport wraps an already-connected net.Conn, e.g. one accepted
// by a server listener (a concrete driver concern outside this core).
func NewTCPTransport(conn net.Conn) *TCPTransport {
	return &TCPTransport{conn: conn, clock: NewRealClock()}
}

// Close closes the connection.
func (t *TCPTransport) Close() error { return t.conn.Close() }

// Send writes without blocking beyond the kernel's own send-buffer
// backpressure.
func (t *TCPTransport) Send(b []byte) SendResult {
	if err := t.conn.SetWriteDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return SendResult{Err: fmt.Errorf("modbuscore: set write deadline: %w", err)}
	}
	n, err := t.conn.Write(b)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return SendResult{Accepted: n, WouldBlock: n < len(b)}
		}
		return SendResult{Accepted: n, Err: fmt.Errorf("modbuscore: tcp write: %w", err)}
	}
	return SendResult{Accepted: n}
}

// Receive reads whatever is already available without blocking.
func (t *TCPTransport) Receive(buf []byte) RecvResult {
	if err := t.conn.SetReadDeadline(time.Now()); err != nil {
		return RecvResult{Err: fmt.Errorf("modbuscore: set read deadline: %w", err)}
	}
	n, err := t.conn.Read(buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return RecvResult{N: n, WouldBlock: true}
		}
		return RecvResult{N: n, Err: fmt.Errorf("modbuscore: tcp read: %w", err)}
	}
	if n == 0 {
		return RecvResult{WouldBlock: true}
	}
	return RecvResult{N: n}
}

// NowMS returns a monotonic millisecond timestamp.
func (t *TCPTransport) NowMS() uint64 { return t.clock.NowMS() }

// Yield is a no-op; the OS scheduler already interleaves goroutines.
func (t *TCPTransport) Yield() {}
