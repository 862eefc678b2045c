// Package crossbar virtualizes an interrupt crossbar: it routes
// firmware-described interrupts onto scarce crossbar lines, and guards guest
// access to the crossbar control registers so lines reserved by the host
// cannot be rebound.
package crossbar

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tinyrange/crossbar/internal/chipset"
	"github.com/tinyrange/crossbar/internal/iomem"
)

// Controller owns the crossbar state of the controlling system: the mapped
// control page, the line table and the allocator. Every mutation of that
// state goes through Controller's mutex.
type Controller struct {
	family Family
	mapper iomem.Mapper
	irqs   *chipset.LineSet

	mu     sync.Mutex
	bank   iomem.Bank
	alloc  *Allocator
	closed bool

	// snap is published once and read without locking by the guard.
	snap atomic.Pointer[snapshot]

	guard *Guard
	stats Stats
}

// snapshot is the immutable view of the controller the trap path uses.
type snapshot struct {
	table *LineTable
	bank  iomem.Bank
}

// New creates a controller for family f. The control page is mapped through
// m on first use. irqs is the host's physical interrupt ownership table.
func New(f Family, m iomem.Mapper, irqs *chipset.LineSet) (*Controller, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("crossbar: nil mapper")
	}
	if irqs == nil {
		return nil, fmt.Errorf("crossbar: nil interrupt table")
	}

	c := &Controller{
		family: f,
		mapper: m,
		irqs:   irqs,
	}
	c.guard = newGuard(c)

	slog.Info("crossbar: controller created",
		"family", f.Name, "usable", f.String(), "lines", f.UsableCount(),
		"control_base", fmt.Sprintf("0x%x", f.ControlBase))
	return c, nil
}

// Family returns the family the controller was built for.
func (c *Controller) Family() Family {
	return c.family
}

// IRQs returns the host interrupt ownership table.
func (c *Controller) IRQs() *chipset.LineSet {
	return c.irqs
}

// Guard returns the MMIO trap handler for the control page.
func (c *Controller) Guard() *Guard {
	return c.guard
}

// Stats returns a snapshot of the event counters.
func (c *Controller) Stats() StatsSnapshot {
	return c.stats.Snapshot()
}

// Table returns the line table, building it if needed.
func (c *Controller) Table() (*LineTable, error) {
	if s := c.snap.Load(); s != nil {
		return s.table, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.initLocked(); err != nil {
		return nil, err
	}
	return c.snap.Load().table, nil
}

// Cursor returns the allocator cursor, or -1 before initialization.
func (c *Controller) Cursor() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.alloc == nil {
		return -1
	}
	return c.alloc.Cursor()
}

// Allocated returns the crossbar lines handed out so far.
func (c *Controller) Allocated() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.alloc == nil {
		return nil
	}
	return c.alloc.Allocated()
}

// Remaining returns how many usable lines have not been handed out yet.
func (c *Controller) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.alloc == nil {
		return len(BuildTable(c.family).Usable())
	}
	return c.alloc.Remaining()
}

// ReadMux returns the crossbar source currently bound to line i.
func (c *Controller) ReadMux(i int) (uint32, error) {
	t, err := c.Table()
	if err != nil {
		return 0, err
	}
	line, ok := t.Line(i)
	if !ok || !line.Usable() {
		return 0, fmt.Errorf("crossbar: MPU_IRQ_%d is not a usable line", i)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bank == nil {
		return 0, fmt.Errorf("crossbar: control region closed")
	}
	v, err := c.bank.Read(c.family.MuxStart+uint64(line.Offset), 2)
	if err != nil {
		return 0, fmt.Errorf("crossbar: read MPU_IRQ_%d: %w", i, err)
	}
	return uint32(v), nil
}

// Close unmaps the control page. The controller cannot be used afterwards.
// Guard reads do not take the controller lock, so Close must not be called
// while any domain set up by this controller can still trap into the guard.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.alloc = nil
	c.snap.Store(nil)
	if c.bank == nil {
		return nil
	}
	err := c.bank.Close()
	c.bank = nil
	return err
}

// initLocked maps the control page and builds the table and allocator.
// It is idempotent.
func (c *Controller) initLocked() error {
	if c.closed {
		return fmt.Errorf("crossbar: controller closed")
	}
	if c.alloc != nil {
		return nil
	}
	if c.bank == nil {
		bank, err := c.mapper.Map(c.family.ControlBase, c.family.ControlSize)
		if err != nil {
			return fmt.Errorf("%w: 0x%x+0x%x: %w", ErrMappingFailure, c.family.ControlBase, c.family.ControlSize, err)
		}
		c.bank = bank
	}
	table := BuildTable(c.family)
	c.alloc = NewAllocator(table, c.bank, c.family.MuxStart, &c.stats)
	c.snap.Store(&snapshot{table: table, bank: c.bank})
	slog.Debug("crossbar: line table built", "usable", len(table.usable), "span", table.Span())
	return nil
}

// muxEnd returns the last byte offset of the mux window.
func (c *Controller) muxEnd(t *LineTable) uint64 {
	if c.family.MuxEnd != 0 {
		return c.family.MuxEnd
	}
	return c.family.MuxStart + uint64(t.Span()) - 1
}
