package crossbar

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinyrange/crossbar/internal/chipset"
	"github.com/tinyrange/crossbar/internal/hv"
	"gvisor.dev/gvisor/pkg/cleanup"
)

// RouteOwner is the owner name recorded for lines granted by SetupDomain.
const RouteOwner = "CROSSBAR"

// Domain is the part of a guest domain SetupDomain needs.
type Domain interface {
	ID() int
	UnmapMMIO(guest, size uint64) error
	UnmapHost(host, size uint64) error
	DenyIOMem(base, size uint64) error
	IOMemRevoked(base, size uint64) bool
	RegisterMMIOHandler(name string, base, size uint64, h chipset.MmioHandler) error
	NumIRQs() uint32
	RouteIRQ(virq, pirq uint32, owner string) error
	UnrouteIRQ(virq uint32)
}

// SetupDomain puts the control page of d behind the guard and grants d
// identity routes for every interrupt line nobody else claimed. It runs once
// per domain at build time, after the default hardware mappings exist. Any
// error is fatal to the domain build.
func (c *Controller) SetupDomain(d Domain) error {
	if err := c.verifyTable(); err != nil {
		return fmt.Errorf("%w: d%d: %w", ErrSetupFailed, d.ID(), err)
	}

	base, size := c.family.ControlBase, c.family.ControlSize

	if err := d.UnmapMMIO(base, size); err != nil {
		if !errors.Is(err, hv.ErrNotMapped) {
			return fmt.Errorf("%w: d%d: unmap control page: %w", ErrSetupFailed, d.ID(), err)
		}
		slog.Debug("crossbar: control page was not mapped", "domain", d.ID())
	}
	// The page may also be mapped at some other guest address.
	if err := d.UnmapHost(base, size); err != nil && !errors.Is(err, hv.ErrNotMapped) {
		return fmt.Errorf("%w: d%d: revoke control page aliases: %w", ErrSetupFailed, d.ID(), err)
	}

	if err := d.DenyIOMem(base, size); err != nil {
		return fmt.Errorf("%w: d%d: deny control page: %w", ErrSetupFailed, d.ID(), err)
	}
	if !d.IOMemRevoked(base, size) {
		return fmt.Errorf("%w: d%d: control page still directly reachable", ErrSetupFailed, d.ID())
	}

	if err := d.RegisterMMIOHandler("crossbar", base, size, c.guard); err != nil {
		return fmt.Errorf("%w: d%d: install guard: %w", ErrSetupFailed, d.ID(), err)
	}

	routed, err := c.routeUnclaimed(d)
	if err != nil {
		return fmt.Errorf("%w: d%d: %w", ErrSetupFailed, d.ID(), err)
	}

	slog.Info("crossbar: domain set up",
		"domain", d.ID(), "control_base", fmt.Sprintf("0x%x", base), "routed", routed)
	return nil
}

// routeUnclaimed grants virq == pirq for every unclaimed shared interrupt.
// It holds the controller lock so no allocation can race with the claims.
func (c *Controller) routeUnclaimed(d Domain) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var granted []uint32
	cu := cleanup.Make(func() {
		for _, irq := range granted {
			d.UnrouteIRQ(irq)
		}
	})
	defer cu.Clean()

	limit := min(d.NumIRQs(), c.irqs.Size())
	for irq := c.family.LocalIRQs; irq < limit; irq++ {
		if c.irqs.Claimed(irq) {
			continue
		}
		if err := d.RouteIRQ(irq, irq, RouteOwner); err != nil {
			return 0, fmt.Errorf("route irq %d: %w", irq, err)
		}
		granted = append(granted, irq)
	}

	cu.Release()
	return len(granted), nil
}

// verifyTable rebuilds the line table and checks it against the one the
// allocator has been using.
func (c *Controller) verifyTable() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.initLocked(); err != nil {
		return err
	}
	if rebuilt := BuildTable(c.family); !rebuilt.Equal(c.snap.Load().table) {
		return ErrTableDivergence
	}
	return nil
}
