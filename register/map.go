// Package register implements the server-side register map: a sparse
// set of non-overlapping address regions per data-model type, backed
// either by direct storage or by read/write callbacks (spec §3's Server
// Register Map), generalized from the teacher's single fixed-size
// DefaultDataStore (server.go) into sorted, binary-searched regions.
package register

import (
	"fmt"
	"sort"

	"github.com/modbuscore/modbuscore/core"
)

// RegionType names one of the four Modbus data models.
type RegionType uint8

const (
	Coils RegionType = iota
	DiscreteInputs
	HoldingRegisters
	InputRegisters
)

// BitBackend backs a Coils/DiscreteInputs region: either direct storage
// or read/write callbacks (spec §6's register map callbacks).
type BitBackend struct {
	Read  func(addr, qty uint16) ([]bool, error)
	Write func(addr uint16, values []bool) error // nil for read-only regions
}

// RegisterBackend backs a HoldingRegisters/InputRegisters region.
type RegisterBackend struct {
	Read  func(addr, qty uint16) ([]uint16, error)
	Write func(addr uint16, values []uint16) error // nil for read-only regions
}

type region struct {
	start, length uint16
	bits          BitBackend
	regs          RegisterBackend
}

func (r region) end() uint32 { return uint32(r.start) + uint32(r.length) }

// Map is the server's sparse register map: one sorted, non-overlapping
// region list per RegionType, looked up by binary search on start
// address (spec §3, O(log n)).
type Map struct {
	regions [4][]region
}

// NewMap constructs an empty register map.
func NewMap() *Map { return &Map{} }

// AddBitRegion registers a Coils or DiscreteInputs region backed by
// direct storage or callbacks. Returns an error if it overlaps an
// existing region of the same type.
func (m *Map) AddBitRegion(t RegionType, start, length uint16, backend BitBackend) error {
	if t != Coils && t != DiscreteInputs {
		return fmt.Errorf("register: %v is not a bit region type", t)
	}
	return m.addRegion(t, region{start: start, length: length, bits: backend})
}

// AddRegisterRegion registers a HoldingRegisters or InputRegisters
// region backed by direct storage or callbacks.
func (m *Map) AddRegisterRegion(t RegionType, start, length uint16, backend RegisterBackend) error {
	if t != HoldingRegisters && t != InputRegisters {
		return fmt.Errorf("register: %v is not a register region type", t)
	}
	return m.addRegion(t, region{start: start, length: length, regs: backend})
}

func (m *Map) addRegion(t RegionType, r region) error {
	regions := m.regions[t]
	for _, existing := range regions {
		if uint32(r.start) < existing.end() && uint32(existing.start) < r.end() {
			return fmt.Errorf("register: region [%d,%d) overlaps existing [%d,%d)", r.start, r.end(), existing.start, existing.end())
		}
	}
	regions = append(regions, r)
	sort.Slice(regions, func(i, j int) bool { return regions[i].start < regions[j].start })
	m.regions[t] = regions
	return nil
}

// findRegion returns the region of type t covering [addr, addr+qty) by
// binary search on start address, or ok=false if none covers the whole
// range.
func (m *Map) findRegion(t RegionType, addr, qty uint16) (region, bool) {
	regions := m.regions[t]
	i := sort.Search(len(regions), func(i int) bool { return regions[i].start > addr })
	if i == 0 {
		return region{}, false
	}
	r := regions[i-1]
	if uint32(addr)+uint32(qty) > r.end() {
		return region{}, false
	}
	return r, true
}

// ReadBits reads qty bits of type t starting at addr.
func (m *Map) ReadBits(t RegionType, addr, qty uint16) ([]bool, error) {
	r, ok := m.findRegion(t, addr, qty)
	if !ok {
		return nil, core.NewLocalError(0, core.OutcomeIllegalDataAddress, fmt.Sprintf("address range [%d,%d) not mapped", addr, uint32(addr)+uint32(qty)))
	}
	return r.bits.Read(addr-r.start, qty)
}

// WriteBits writes values of type t starting at addr.
func (m *Map) WriteBits(t RegionType, addr uint16, values []bool) error {
	r, ok := m.findRegion(t, addr, uint16(len(values)))
	if !ok {
		return core.NewLocalError(0, core.OutcomeIllegalDataAddress, fmt.Sprintf("address range [%d,%d) not mapped", addr, uint32(addr)+uint32(len(values))))
	}
	if r.bits.Write == nil {
		return core.NewLocalError(0, core.OutcomeIllegalFunction, "region is read-only")
	}
	return r.bits.Write(addr-r.start, values)
}

// ReadRegisters reads qty registers of type t starting at addr.
func (m *Map) ReadRegisters(t RegionType, addr, qty uint16) ([]uint16, error) {
	r, ok := m.findRegion(t, addr, qty)
	if !ok {
		return nil, core.NewLocalError(0, core.OutcomeIllegalDataAddress, fmt.Sprintf("address range [%d,%d) not mapped", addr, uint32(addr)+uint32(qty)))
	}
	return r.regs.Read(addr-r.start, qty)
}

// WriteRegisters writes values of type t starting at addr.
func (m *Map) WriteRegisters(t RegionType, addr uint16, values []uint16) error {
	r, ok := m.findRegion(t, addr, uint16(len(values)))
	if !ok {
		return core.NewLocalError(0, core.OutcomeIllegalDataAddress, fmt.Sprintf("address range [%d,%d) not mapped", addr, uint32(addr)+uint32(len(values))))
	}
	if r.regs.Write == nil {
		return core.NewLocalError(0, core.OutcomeIllegalFunction, "region is read-only")
	}
	return r.regs.Write(addr-r.start, values)
}

// NewSliceRegisterBackend adapts a plain []uint16 slice into a
// RegisterBackend, the common case of the teacher's
// DefaultDataStore.holdingRegisters.
func NewSliceRegisterBackend(slice []uint16, writable bool) RegisterBackend {
	b := RegisterBackend{
		Read: func(addr, qty uint16) ([]uint16, error) {
			out := make([]uint16, qty)
			copy(out, slice[addr:int(addr)+int(qty)])
			return out, nil
		},
	}
	if writable {
		b.Write = func(addr uint16, values []uint16) error {
			copy(slice[addr:int(addr)+len(values)], values)
			return nil
		}
	}
	return b
}

// NewSliceBitBackend adapts a plain []bool slice into a BitBackend.
func NewSliceBitBackend(slice []bool, writable bool) BitBackend {
	b := BitBackend{
		Read: func(addr, qty uint16) ([]bool, error) {
			out := make([]bool, qty)
			copy(out, slice[addr:int(addr)+int(qty)])
			return out, nil
		},
	}
	if writable {
		b.Write = func(addr uint16, values []bool) error {
			copy(slice[addr:int(addr)+len(values)], values)
			return nil
		}
	}
	return b
}
