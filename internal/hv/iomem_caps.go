package hv

import (
	"fmt"
	"sync"
)

// IOMemCaps records which machine-physical ranges a domain may map directly.
// Denials are sticky: once a range is denied no later Permit can cover it.
type IOMemCaps struct {
	mu sync.Mutex

	permitted []MMIORegion
	denied    []MMIORegion
}

func NewIOMemCaps() *IOMemCaps {
	return &IOMemCaps{}
}

// Permit grants raw access to [base, base+size).
func (c *IOMemCaps) Permit(base, size uint64) error {
	if size == 0 || base+size < base {
		return fmt.Errorf("iomem: invalid range 0x%x+0x%x", base, size)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, d := range c.denied {
		if d.Overlaps(base, size) {
			return fmt.Errorf("iomem: permit [0x%x-0x%x) overlaps denied %s: %w", base, base+size, d, ErrAccessDenied)
		}
	}
	c.permitted = append(c.permitted, MMIORegion{Address: base, Size: size})
	return nil
}

// Deny revokes raw access to [base, base+size) and pins the revocation.
func (c *IOMemCaps) Deny(base, size uint64) error {
	if size == 0 || base+size < base {
		return fmt.Errorf("iomem: invalid range 0x%x+0x%x", base, size)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.denied = append(c.denied, MMIORegion{Address: base, Size: size})
	return nil
}

// Permitted reports whether every byte of [base, base+size) is covered by a
// permitted range and none of it is denied.
func (c *IOMemCaps) Permitted(base, size uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, d := range c.denied {
		if d.Overlaps(base, size) {
			return false
		}
	}

	// Walk forward through permitted ranges until the request is covered.
	cursor, end := base, base+size
	for cursor < end {
		advanced := false
		for _, p := range c.permitted {
			if p.Address <= cursor && cursor < p.End() {
				cursor = p.End()
				advanced = true
			}
		}
		if !advanced {
			return false
		}
	}
	return true
}

// Denied reports whether any part of the range has been denied.
func (c *IOMemCaps) Denied(base, size uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, d := range c.denied {
		if d.Overlaps(base, size) {
			return true
		}
	}
	return false
}
