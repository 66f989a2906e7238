package register

import (
	"reflect"
	"testing"
)

func TestReadWriteRoundTripThroughSliceBackend(t *testing.T) {
	holding := make([]uint16, 100)
	for i := range holding {
		holding[i] = uint16(i)
	}
	m := NewMap()
	if err := m.AddRegisterRegion(HoldingRegisters, 0, 100, NewSliceRegisterBackend(holding, true)); err != nil {
		t.Fatalf("add region: %v", err)
	}

	got, err := m.ReadRegisters(HoldingRegisters, 0, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []uint16{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}

	if err := m.WriteRegisters(HoldingRegisters, 0, []uint16{100, 200}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if holding[0] != 100 || holding[1] != 200 {
		t.Fatalf("write did not land: %v", holding[:2])
	}
}

func TestOutOfRangeReadIsIllegalDataAddress(t *testing.T) {
	holding := make([]uint16, 100)
	m := NewMap()
	_ = m.AddRegisterRegion(HoldingRegisters, 0, 0x0100, NewSliceRegisterBackend(holding, true))
	if _, err := m.ReadRegisters(HoldingRegisters, 0xFF00, 1); err == nil {
		t.Fatal("expected illegal data address error")
	}
}

func TestOverlappingRegionsRejected(t *testing.T) {
	m := NewMap()
	a := make([]uint16, 10)
	b := make([]uint16, 10)
	if err := m.AddRegisterRegion(HoldingRegisters, 0, 10, NewSliceRegisterBackend(a, true)); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := m.AddRegisterRegion(HoldingRegisters, 5, 10, NewSliceRegisterBackend(b, true)); err == nil {
		t.Fatal("expected overlap error")
	}
}

func TestWriteToReadOnlyRegionRejected(t *testing.T) {
	m := NewMap()
	inputs := make([]uint16, 10)
	_ = m.AddRegisterRegion(InputRegisters, 0, 10, NewSliceRegisterBackend(inputs, false))
	if err := m.WriteRegisters(InputRegisters, 0, []uint16{1}); err == nil {
		t.Fatal("expected read-only rejection")
	}
}

func TestMultipleNonOverlappingRegions(t *testing.T) {
	m := NewMap()
	low := make([]uint16, 10)
	high := make([]uint16, 10)
	if err := m.AddRegisterRegion(HoldingRegisters, 100, 10, NewSliceRegisterBackend(high, true)); err != nil {
		t.Fatalf("add high: %v", err)
	}
	if err := m.AddRegisterRegion(HoldingRegisters, 0, 10, NewSliceRegisterBackend(low, true)); err != nil {
		t.Fatalf("add low: %v", err)
	}
	if _, err := m.ReadRegisters(HoldingRegisters, 100, 5); err != nil {
		t.Fatalf("read high region: %v", err)
	}
	if _, err := m.ReadRegisters(HoldingRegisters, 0, 5); err != nil {
		t.Fatalf("read low region: %v", err)
	}
	if _, err := m.ReadRegisters(HoldingRegisters, 10, 5); err == nil {
		t.Fatal("gap between regions should be illegal")
	}
}
