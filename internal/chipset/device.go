package chipset

import (
	"github.com/tinyrange/crossbar/internal/hv"
)

// MmioHandler handles reads and writes to memory-mapped regions.
// Returning nil means the access was handled, whatever the handler decided
// to do with it.
type MmioHandler interface {
	ReadMMIO(ctx hv.ExitContext, addr uint64, data []byte) error
	WriteMMIO(ctx hv.ExitContext, addr uint64, data []byte) error
}

// MmioIntercept describes the MMIO regions a device serves and the handler for them.
type MmioIntercept struct {
	Regions []hv.MMIORegion
	Handler MmioHandler
}

// MmioDevice is implemented by devices that trap a fixed set of regions.
type MmioDevice interface {
	SupportsMmio() *MmioIntercept
}
