package chipset

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tinyrange/crossbar/internal/hv"
)

// ErrUnhandled is returned when no handler covers a trapped access.
var ErrUnhandled = errors.New("chipset: unhandled MMIO access")

// lookup returns the trap whose region fully contains the access.
func (c *Chipset) lookup(addr, size uint64) (trap, bool) {
	// First trap starting after addr; the candidate is the one before it.
	i := sort.Search(len(c.traps), func(i int) bool { return c.traps[i].region.Address > addr })
	if i == 0 {
		return trap{}, false
	}
	t := c.traps[i-1]
	if !t.region.Contains(addr, size) {
		return trap{}, false
	}
	return t, true
}

// HandleMMIO dispatches a trapped access to the handler for its region.
func (c *Chipset) HandleMMIO(ctx hv.ExitContext, addr uint64, data []byte, isWrite bool) error {
	if addr+uint64(len(data)) < addr {
		return fmt.Errorf("chipset: MMIO access overflow at 0x%016x", addr)
	}

	t, ok := c.lookup(addr, uint64(len(data)))
	if !ok {
		return fmt.Errorf("%w at 0x%016x", ErrUnhandled, addr)
	}
	if isWrite {
		return t.handler.WriteMMIO(ctx, addr, data)
	}
	return t.handler.ReadMMIO(ctx, addr, data)
}

// Regions returns the trapped regions in address order.
func (c *Chipset) Regions() []hv.MMIORegion {
	out := make([]hv.MMIORegion, len(c.traps))
	for i, t := range c.traps {
		out[i] = t.region
	}
	return out
}

// Covers reports whether an access would be dispatched to a handler.
func (c *Chipset) Covers(addr, size uint64) bool {
	_, ok := c.lookup(addr, size)
	return ok
}
