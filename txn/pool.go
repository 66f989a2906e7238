package txn

import "github.com/modbuscore/modbuscore/core"

// Pool is the fixed-capacity transaction slot array plus free-list
// (spec §3's TransactionPool). Acquire/Release are O(1) and never
// allocate on the steady path.
type Pool struct {
	slots      []Transaction
	generation []uint32
	free       []int // stack of free slot indices
}

// NewPool constructs a Pool with the given fixed capacity.
func NewPool(capacity int) *Pool {
	p := &Pool{
		slots:      make([]Transaction, capacity),
		generation: make([]uint32, capacity),
		free:       make([]int, capacity),
	}
	for i := range p.free {
		p.free[i] = capacity - 1 - i
	}
	return p
}

// Capacity returns the fixed pool size.
func (p *Pool) Capacity() int { return len(p.slots) }

// InUse returns the number of currently-acquired slots.
func (p *Pool) InUse() int { return len(p.slots) - len(p.free) }

// Acquire reserves a free slot and returns its zeroed Transaction and
// Handle. ok is false (pool exhausted → Busy, spec §3) if no slot is
// free.
func (p *Pool) Acquire() (*Transaction, Handle, bool) {
	if len(p.free) == 0 {
		return nil, Handle{}, false
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	slot := &p.slots[idx]
	*slot = Transaction{}
	slot.handle = Handle{Index: idx, Generation: p.generation[idx]}
	slot.inUse = true
	return slot, slot.handle, true
}

// Get resolves a handle to its Transaction, or ok=false if the handle is
// stale (the slot was released and reused).
func (p *Pool) Get(h Handle) (*Transaction, bool) {
	if h.Index < 0 || h.Index >= len(p.slots) {
		return nil, false
	}
	slot := &p.slots[h.Index]
	if !slot.inUse || slot.handle.Generation != h.Generation {
		return nil, false
	}
	return slot, true
}

// Release returns a slot to the free list, bumping its generation so
// any handle still held by the application is recognized as stale.
func (p *Pool) Release(h Handle) {
	if h.Index < 0 || h.Index >= len(p.slots) {
		return
	}
	slot := &p.slots[h.Index]
	if !slot.inUse || slot.handle.Generation != h.Generation {
		return
	}
	slot.inUse = false
	p.generation[h.Index]++
	p.free = append(p.free, h.Index)
}

// All returns every currently-acquired transaction, for flush()/
// watchdog scans.
func (p *Pool) All() []*Transaction {
	out := make([]*Transaction, 0, p.InUse())
	for i := range p.slots {
		if p.slots[i].inUse {
			out = append(out, &p.slots[i])
		}
	}
	return out
}

// outcomeBusy is returned by callers when Acquire fails; kept here so
// Busy always maps to the same outcome slot.
const outcomeBusy = core.OutcomeBusy
