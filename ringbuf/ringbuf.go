// Package ringbuf implements the fixed-capacity single-producer/
// single-consumer byte ring used to stage RX bytes ahead of framing
// decode and TX bytes after framing encode (spec §3, §4.7).
//
// Capacity is rounded up to a power of two so index masking replaces
// modulo. Only the producer writes tail; only the consumer writes head.
// Go's memory model guarantees happens-before through the atomic
// load/store pair on tail/head, so data written by the producer before
// publishing tail is visible to the consumer after it observes the new
// tail value — the release/acquire discipline spec §4.7 calls for.
package ringbuf

import "sync/atomic"

// Ring is a fixed-capacity SPSC byte ring. The zero value is not usable;
// construct with New.
type Ring struct {
	buf  []byte
	mask uint32
	head atomic.Uint32 // consumer-owned
	tail atomic.Uint32 // producer-owned
}

// New creates a Ring whose usable capacity is the next power of two ≥
// capacity (minimum 2).
func New(capacity int) *Ring {
	n := uint32(2)
	for int(n) < capacity {
		n <<= 1
	}
	return &Ring{buf: make([]byte, n), mask: n - 1}
}

// Cap returns the usable byte capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// Len returns the number of unread bytes currently staged.
func (r *Ring) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Free returns the number of bytes that can still be written before the
// ring is full.
func (r *Ring) Free() int { return r.Cap() - r.Len() }

// Write is the producer operation: it copies as many bytes from p as fit
// and returns the count written. It never blocks.
func (r *Ring) Write(p []byte) int {
	free := r.Free()
	n := len(p)
	if n > free {
		n = free
	}
	if n == 0 {
		return 0
	}
	tail := r.tail.Load()
	for i := 0; i < n; i++ {
		r.buf[(tail+uint32(i))&r.mask] = p[i]
	}
	r.tail.Store(tail + uint32(n))
	return n
}

// Read is the consumer operation: it copies as many staged bytes into p
// as are available and returns the count read. It never blocks.
func (r *Ring) Read(p []byte) int {
	avail := r.Len()
	n := len(p)
	if n > avail {
		n = avail
	}
	if n == 0 {
		return 0
	}
	head := r.head.Load()
	for i := 0; i < n; i++ {
		p[i] = r.buf[(head+uint32(i))&r.mask]
	}
	r.head.Store(head + uint32(n))
	return n
}

// PeekByte returns the byte at offset from the current head without
// consuming it, and whether that offset is within the unread region.
func (r *Ring) PeekByte(offset int) (byte, bool) {
	if offset < 0 || offset >= r.Len() {
		return 0, false
	}
	head := r.head.Load()
	return r.buf[(head+uint32(offset))&r.mask], true
}

// Discard advances head by n bytes without copying them out, clamped to
// the available length. Returns the number actually discarded.
func (r *Ring) Discard(n int) int {
	avail := r.Len()
	if n > avail {
		n = avail
	}
	if n <= 0 {
		return 0
	}
	r.head.Store(r.head.Load() + uint32(n))
	return n
}

// Reset empties the ring. Not safe to call concurrently with Read/Write.
func (r *Ring) Reset() {
	r.head.Store(0)
	r.tail.Store(0)
}
