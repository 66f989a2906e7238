package diag

import (
	"sync/atomic"

	"github.com/modbuscore/modbuscore/core"
)

// Counters holds per-function-code and per-outcome-slot totals. All
// increments are single word-sized atomic writes (spec §4.6's overhead
// budget); Snapshot reads each counter once and is not required to be
// globally consistent across counters (spec §5's shared-resource
// policy).
type Counters struct {
	byFunctionCode [256]atomic.Uint32
	byOutcome      [core.NumOutcomes]atomic.Uint32
}

// IncFunctionCode increments the counter for fc.
func (c *Counters) IncFunctionCode(fc core.FunctionCode) {
	c.byFunctionCode[fc.Base()].Add(1)
}

// IncOutcome increments the counter for outcome.
func (c *Counters) IncOutcome(outcome core.OutcomeSlot) {
	c.byOutcome[outcome].Add(1)
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	ByFunctionCode [256]uint32
	ByOutcome      [core.NumOutcomes]uint32
}

// Snapshot returns a consistent-per-counter copy (spec §8 item 6 /
// testable property 6).
func (c *Counters) Snapshot() Snapshot {
	var s Snapshot
	for i := range c.byFunctionCode {
		s.ByFunctionCode[i] = c.byFunctionCode[i].Load()
	}
	for i := range c.byOutcome {
		s.ByOutcome[i] = c.byOutcome[i].Load()
	}
	return s
}

// Reset zeroes every counter.
func (c *Counters) Reset() {
	for i := range c.byFunctionCode {
		c.byFunctionCode[i].Store(0)
	}
	for i := range c.byOutcome {
		c.byOutcome[i].Store(0)
	}
}

// IsZero reports whether every counter in the snapshot is zero.
func (s Snapshot) IsZero() bool {
	for _, v := range s.ByFunctionCode {
		if v != 0 {
			return false
		}
	}
	for _, v := range s.ByOutcome {
		if v != 0 {
			return false
		}
	}
	return true
}
