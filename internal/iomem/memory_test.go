package iomem

import (
	"errors"
	"testing"
)

func TestMemoryBankReadWrite(t *testing.T) {
	mem := NewMemory()
	bank, err := mem.Map(0x4A002000, 0x1000)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	defer bank.Close()

	if bank.Base() != 0x4A002000 || bank.Size() != 0x1000 {
		t.Fatalf("bank = 0x%x+0x%x", bank.Base(), bank.Size())
	}

	tests := []struct {
		off   uint64
		width int
		value uint64
	}{
		{0x0, 4, 0xdeadbeef},
		{0xa48, 2, 0x00db},
		{0xa4a, 1, 0x7f},
		{0xffc, 4, 0x01020304},
	}
	for _, tt := range tests {
		if err := bank.Write(tt.off, tt.width, tt.value); err != nil {
			t.Fatalf("Write(0x%x): %v", tt.off, err)
		}
		got, err := bank.Read(tt.off, tt.width)
		if err != nil {
			t.Fatalf("Read(0x%x): %v", tt.off, err)
		}
		if got != tt.value {
			t.Errorf("Read(0x%x, %d) = 0x%x, want 0x%x", tt.off, tt.width, got, tt.value)
		}
	}

	// Little endian: the low byte of the word lives at the lowest address.
	if b, _ := bank.Read(0x0, 1); b != 0xef {
		t.Fatalf("low byte = 0x%x, want 0xef", b)
	}
}

func TestMemoryBankBounds(t *testing.T) {
	bank, err := NewMemory().Map(0x1000, 0x10)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := bank.Read(0xe, 4); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
	if err := bank.Write(0x10, 1, 0); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
	if _, err := bank.Read(0, 3); !errors.Is(err, ErrBadWidth) {
		t.Fatalf("expected ErrBadWidth, got %v", err)
	}
	if err := bank.Write(0, 8, 0); !errors.Is(err, ErrBadWidth) {
		t.Fatalf("expected ErrBadWidth, got %v", err)
	}
}

func TestMemoryMappingsAlias(t *testing.T) {
	mem := NewMemory()
	page, _ := mem.Map(0x48243000, 0x1000)
	counter, _ := mem.Map(0x48243200, 0x20)

	if err := counter.Write(0x10, 4, 0x12345); err != nil {
		t.Fatal(err)
	}
	got, err := page.Read(0x210, 4)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0x12345 {
		t.Fatalf("aliased read = 0x%x, want 0x12345", got)
	}
	if v, _ := mem.Peek(0x48243210, 4); v != 0x12345 {
		t.Fatalf("Peek = 0x%x, want 0x12345", v)
	}
}

func TestMemoryCrossesPageBoundary(t *testing.T) {
	mem := NewMemory()
	if err := mem.Poke(0x1ffe, 4, 0xaabbccdd); err != nil {
		t.Fatal(err)
	}
	lo, _ := mem.Peek(0x1ffe, 2)
	hi, _ := mem.Peek(0x2000, 2)
	if lo != 0xccdd || hi != 0xaabb {
		t.Fatalf("split word = 0x%x/0x%x", lo, hi)
	}
}

func TestMemoryMapRejectsEmpty(t *testing.T) {
	if _, err := NewMemory().Map(0x1000, 0); err == nil {
		t.Fatal("expected error for zero-size mapping")
	}
	if _, err := NewMemory().Map(^uint64(0), 2); err == nil {
		t.Fatal("expected error for wrapping mapping")
	}
}

func TestMask(t *testing.T) {
	for width, want := range map[int]uint64{1: 0xff, 2: 0xffff, 4: 0xffffffff} {
		if got := Mask(width); got != want {
			t.Errorf("Mask(%d) = 0x%x, want 0x%x", width, got, want)
		}
	}
}
