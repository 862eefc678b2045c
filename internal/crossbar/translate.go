package crossbar

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/tinyrange/crossbar/internal/fdt"
)

// Interrupt sense bits carried in the third interrupt cell.
const (
	SenseEdgeRising  = 0x1
	SenseEdgeFalling = 0x2
	SenseLevelHigh   = 0x4
	SenseLevelLow    = 0x8
	SenseMask        = 0xf
)

// DescriptorCells is the number of cells in a crossbar interrupt descriptor.
const DescriptorCells = 3

// Translation is the hardware interrupt a descriptor resolved to.
type Translation struct {
	HWIRQ uint32
	Type  uint32

	// Routed is set for crossbar-routed descriptors; Line and Clamped are
	// only meaningful then.
	Routed  bool
	Line    int
	Clamped bool
}

// Translate resolves a (kind, id, flags) descriptor. kind 0 routes id
// through a freshly allocated crossbar line; any other kind is wired
// straight to the interrupt controller.
func (c *Controller) Translate(cells []uint32) (Translation, error) {
	if len(cells) < DescriptorCells {
		return Translation{}, fmt.Errorf("%w: %d cells, want %d", ErrInvalidDescriptor, len(cells), DescriptorCells)
	}
	kind, id, flags := cells[0], cells[1], cells[2]

	tr := Translation{Type: flags & SenseMask, Line: -1}

	if kind != 0 {
		if id > math.MaxUint32-c.family.SPIBase {
			return Translation{}, fmt.Errorf("%w: interrupt %d overflows hwirq space", ErrInvalidDescriptor, id)
		}
		tr.HWIRQ = id + c.family.SPIBase
		return tr, nil
	}

	if id > muxMask {
		return Translation{}, fmt.Errorf("%w: crossbar id %d does not fit a mux field", ErrInvalidDescriptor, id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.initLocked(); err != nil {
		return Translation{}, err
	}
	alloc, err := c.alloc.Allocate(id)
	if err != nil {
		return Translation{}, err
	}

	tr.Routed = true
	tr.Line = alloc.Line
	tr.Clamped = alloc.Clamped
	tr.HWIRQ = uint32(alloc.Line) + c.family.LocalIRQs
	slog.Info("crossbar: routed interrupt", "crossbar_id", id, "line", alloc.Line, "hwirq", tr.HWIRQ, "offset", alloc.Offset)
	return tr, nil
}

// TranslateNode translates every descriptor in a node's "interrupts"
// property. A malformed entry is reported and skipped; the remaining
// entries are still translated.
func (c *Controller) TranslateNode(n fdt.Node) ([]Translation, error) {
	groups, err := n.Interrupts(DescriptorCells)
	if err != nil {
		return nil, fmt.Errorf("crossbar: node %q: %w", n.Name, err)
	}

	var (
		out      []Translation
		firstErr error
	)
	for i, cells := range groups {
		tr, err := c.Translate(cells)
		if err != nil {
			slog.Warn("crossbar: rejecting interrupt entry", "node", n.Name, "index", i, "err", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("crossbar: node %q interrupt %d: %w", n.Name, i, err)
			}
			continue
		}
		out = append(out, tr)
	}
	return out, firstErr
}

// RoutableControllers lists the interrupt-parent compatibles whose
// interrupts this controller can translate.
var RoutableControllers = []string{
	"arm,cortex-a15-gic",
	"ti,irq-crossbar",
	"ti,omap5-wugen-mpu",
	"ti,omap4-wugen-mpu",
}

// IsRoutable reports whether interrupts of the given interrupt-parent node
// can be handed to the hardware domain.
func IsRoutable(controller fdt.Node) bool {
	return controller.IsCompatible(RoutableControllers...)
}
