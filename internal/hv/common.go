package hv

import (
	"errors"
	"fmt"
)

var (
	ErrAccessDenied  = errors.New("access denied")
	ErrNotMapped     = errors.New("region not mapped")
	ErrRegionOverlap = errors.New("region overlaps existing mapping")
)

// ExitContext identifies the execution context that caused a trap.
type ExitContext interface {
	DomainID() int
	VCPUID() int
}

// SimpleExitContext is a plain ExitContext value.
type SimpleExitContext struct {
	Domain int
	VCPU   int
}

func (c SimpleExitContext) DomainID() int { return c.Domain }
func (c SimpleExitContext) VCPUID() int   { return c.VCPU }

func (c SimpleExitContext) String() string {
	return fmt.Sprintf("d%dv%d", c.Domain, c.VCPU)
}

var _ ExitContext = SimpleExitContext{}

type MMIORegion struct {
	Address uint64
	Size    uint64
}

// End returns the first address after the region.
func (r MMIORegion) End() uint64 {
	return r.Address + r.Size
}

// Contains reports whether [addr, addr+size) lies fully inside the region.
func (r MMIORegion) Contains(addr, size uint64) bool {
	end := addr + size
	if end < addr {
		return false
	}
	return addr >= r.Address && end <= r.End()
}

// Overlaps reports whether [addr, addr+size) intersects the region.
func (r MMIORegion) Overlaps(addr, size uint64) bool {
	return addr < r.End() && r.Address < addr+size
}

func (r MMIORegion) String() string {
	return fmt.Sprintf("[0x%x-0x%x)", r.Address, r.End())
}
