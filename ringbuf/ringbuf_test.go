package ringbuf

import (
	"math/rand"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	r := New(8)
	n := r.Write([]byte{1, 2, 3})
	if n != 3 {
		t.Fatalf("wrote %d, want 3", n)
	}
	out := make([]byte, 3)
	if got := r.Read(out); got != 3 {
		t.Fatalf("read %d, want 3", got)
	}
	if out[0] != 1 || out[1] != 2 || out[2] != 3 {
		t.Fatalf("got %v", out)
	}
}

func TestWriteReportsShortOnFull(t *testing.T) {
	r := New(4) // rounds to 4
	n := r.Write([]byte{1, 2, 3, 4, 5, 6})
	if n != 4 {
		t.Fatalf("wrote %d, want 4 (ring full)", n)
	}
	if r.Free() != 0 {
		t.Fatalf("free = %d, want 0", r.Free())
	}
}

func TestSPSCSequenceNeverCorrupts(t *testing.T) {
	r := New(64)
	rng := rand.New(rand.NewSource(1))
	var produced, consumed []byte
	next := byte(0)
	for i := 0; i < 100000; i++ {
		if rng.Intn(2) == 0 {
			chunk := make([]byte, 1+rng.Intn(16))
			for j := range chunk {
				chunk[j] = next
				next++
			}
			n := r.Write(chunk)
			produced = append(produced, chunk[:n]...)
		} else {
			buf := make([]byte, 1+rng.Intn(16))
			n := r.Read(buf)
			consumed = append(consumed, buf[:n]...)
		}
	}
	// drain remainder
	for r.Len() > 0 {
		buf := make([]byte, r.Len())
		n := r.Read(buf)
		consumed = append(consumed, buf[:n]...)
	}
	if len(consumed) != len(produced) {
		t.Fatalf("consumed %d bytes, produced %d", len(consumed), len(produced))
	}
	for i := range consumed {
		if consumed[i] != produced[i] {
			t.Fatalf("byte %d: got %d want %d (frame boundary corrupted)", i, consumed[i], produced[i])
		}
	}
}
