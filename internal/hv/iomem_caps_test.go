package hv

import (
	"errors"
	"testing"
)

func TestIOMemCapsPermitted(t *testing.T) {
	caps := NewIOMemCaps()
	for _, r := range []MMIORegion{{0x1000, 0x1000}, {0x2000, 0x800}, {0x4000, 0x1000}} {
		if err := caps.Permit(r.Address, r.Size); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		base, size uint64
		want       bool
	}{
		{0x1000, 0x1000, true},
		{0x1800, 0x1000, true}, // spans two adjacent grants
		{0x1000, 0x1800, true},
		{0x1000, 0x1801, false},
		{0x3000, 0x10, false},
		{0x4ff0, 0x10, true},
		{0x4ff0, 0x20, false},
	}
	for _, tt := range tests {
		if got := caps.Permitted(tt.base, tt.size); got != tt.want {
			t.Errorf("Permitted(0x%x, 0x%x) = %v, want %v", tt.base, tt.size, got, tt.want)
		}
	}
}

func TestIOMemCapsDenyIsSticky(t *testing.T) {
	caps := NewIOMemCaps()
	if err := caps.Permit(0x4A000000, 0x10000); err != nil {
		t.Fatal(err)
	}
	if err := caps.Deny(0x4A002000, 0x1000); err != nil {
		t.Fatal(err)
	}

	if caps.Permitted(0x4A002000, 0x1000) {
		t.Fatal("denied page still permitted")
	}
	if caps.Permitted(0x4A000000, 0x10000) {
		t.Fatal("range containing a denied page still permitted")
	}
	if !caps.Permitted(0x4A000000, 0x2000) {
		t.Fatal("neighbouring pages lost their grant")
	}
	if !caps.Denied(0x4A002a48, 2) || caps.Denied(0x4A003000, 4) {
		t.Fatal("Denied disagrees with the deny list")
	}

	if err := caps.Permit(0x4A002000, 0x1000); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("re-permit: expected ErrAccessDenied, got %v", err)
	}
	if err := caps.Permit(0x4A001000, 0x2000); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("overlapping permit: expected ErrAccessDenied, got %v", err)
	}
}

func TestIOMemCapsInvalidRanges(t *testing.T) {
	caps := NewIOMemCaps()
	if err := caps.Permit(0x1000, 0); err == nil {
		t.Fatal("expected error for empty permit")
	}
	if err := caps.Deny(^uint64(0), 2); err == nil {
		t.Fatal("expected error for wrapping deny")
	}
}
