// Package domain models a guest domain as seen by the controlling system:
// its stage-2 MMIO mappings, raw iomem capabilities, MMIO trap table and
// virtual interrupt routes.
package domain

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinyrange/crossbar/internal/chipset"
	"github.com/tinyrange/crossbar/internal/hv"
)

var (
	ErrFinalized    = errors.New("domain: already finalized")
	ErrNotFinalized = errors.New("domain: not finalized")
)

// Config describes a domain to build.
type Config struct {
	ID   int
	Name string
	// Hardware marks the domain that manages physical devices.
	Hardware bool
	// NumIRQs is the size of the domain's virtual interrupt space.
	NumIRQs uint32
	// HostIRQs is the controlling system's physical interrupt ownership
	// table; routes claim lines in it.
	HostIRQs *chipset.LineSet
}

// Route is a virtual interrupt bound to a physical one.
type Route struct {
	VIRQ  uint32
	PIRQ  uint32
	Owner string
}

// Domain is a guest under construction or running.
type Domain struct {
	id       int
	name     string
	hardware bool
	numIRQs  uint32

	space *hv.AddressSpace
	caps  *hv.IOMemCaps

	hostIRQs *chipset.LineSet
	virqs    *chipset.LineSet

	mu      sync.Mutex
	routes  map[uint32]Route
	builder *chipset.ChipsetBuilder
	traps   *chipset.Chipset
}

// New creates a domain in the building state.
func New(cfg Config) (*Domain, error) {
	if cfg.HostIRQs == nil {
		return nil, fmt.Errorf("domain: %d: nil host interrupt table", cfg.ID)
	}
	if cfg.NumIRQs == 0 {
		return nil, fmt.Errorf("domain: %d: no interrupts", cfg.ID)
	}
	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("d%d", cfg.ID)
	}
	caps := hv.NewIOMemCaps()
	return &Domain{
		id:       cfg.ID,
		name:     name,
		hardware: cfg.Hardware,
		numIRQs:  cfg.NumIRQs,
		space:    hv.NewAddressSpace(caps),
		caps:     caps,
		hostIRQs: cfg.HostIRQs,
		virqs:    chipset.NewLineSet(cfg.NumIRQs),
		routes:   make(map[uint32]Route),
		builder:  chipset.NewBuilder(),
	}, nil
}

func (d *Domain) ID() int             { return d.id }
func (d *Domain) Name() string        { return d.name }
func (d *Domain) Hardware() bool      { return d.hardware }
func (d *Domain) NumIRQs() uint32     { return d.numIRQs }
func (d *Domain) Caps() *hv.IOMemCaps { return d.caps }

// AddressSpace returns the domain's stage-2 MMIO map.
func (d *Domain) AddressSpace() *hv.AddressSpace { return d.space }

// PermitIOMem grants raw access to a machine range.
func (d *Domain) PermitIOMem(base, size uint64) error {
	if err := d.caps.Permit(base, size); err != nil {
		return fmt.Errorf("domain: %s: %w", d.name, err)
	}
	return nil
}

// DenyIOMem revokes raw access to a machine range for good.
func (d *Domain) DenyIOMem(base, size uint64) error {
	if err := d.caps.Deny(base, size); err != nil {
		return fmt.Errorf("domain: %s: %w", d.name, err)
	}
	return nil
}

// MapMMIO maps machine range [host, host+size) 1:1 at guest, granting raw
// access first. It fails if the range has been denied.
func (d *Domain) MapMMIO(name string, guest, host, size uint64) error {
	if err := d.caps.Permit(host, size); err != nil {
		return fmt.Errorf("domain: %s: map %s: %w", d.name, name, err)
	}
	if err := d.space.Map(name, guest, host, size); err != nil {
		return fmt.Errorf("domain: %s: %w", d.name, err)
	}
	slog.Debug("domain: mapped MMIO", "domain", d.name, "region", name,
		"guest", fmt.Sprintf("0x%x", guest), "size", fmt.Sprintf("0x%x", size))
	return nil
}

// UnmapMMIO removes direct mappings of [guest, guest+size).
func (d *Domain) UnmapMMIO(guest, size uint64) error {
	if err := d.space.Unmap(guest, size); err != nil {
		return fmt.Errorf("domain: %s: %w", d.name, err)
	}
	return nil
}

// UnmapHost removes every direct mapping of machine range [host, host+size),
// wherever in the guest it was mapped.
func (d *Domain) UnmapHost(host, size uint64) error {
	n, err := d.space.UnmapHost(host, size)
	if err != nil {
		return fmt.Errorf("domain: %s: %w", d.name, err)
	}
	slog.Debug("domain: revoked machine range", "domain", d.name,
		"host", fmt.Sprintf("0x%x", host), "size", fmt.Sprintf("0x%x", size), "mappings", n)
	return nil
}

// IOMemRevoked reports whether [base, base+size) is denied and no direct
// mapping still exposes any of it.
func (d *Domain) IOMemRevoked(base, size uint64) bool {
	return d.caps.Denied(base, size) && !d.space.MapsHost(base, size)
}

// RegisterMMIOHandler adds a trap handler. Only allowed while building.
func (d *Domain) RegisterMMIOHandler(name string, base, size uint64, h chipset.MmioHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.traps != nil {
		return fmt.Errorf("domain: %s: register %s: %w", d.name, name, ErrFinalized)
	}
	if err := d.builder.WithMmioRegion(name, base, size, h); err != nil {
		return fmt.Errorf("domain: %s: %w", d.name, err)
	}
	return nil
}

// RouteIRQ delivers physical interrupt pirq to the domain as virq. The
// physical line is claimed in the host table on the domain's behalf.
func (d *Domain) RouteIRQ(virq, pirq uint32, owner string) error {
	if virq >= d.numIRQs {
		return fmt.Errorf("domain: %s: virq %d beyond %d", d.name, virq, d.numIRQs)
	}
	if err := d.hostIRQs.Claim(pirq, fmt.Sprintf("%s:%s", d.name, owner)); err != nil {
		return fmt.Errorf("domain: %s: %w", d.name, err)
	}
	if err := d.virqs.Claim(virq, owner); err != nil {
		d.hostIRQs.Release(pirq)
		return fmt.Errorf("domain: %s: %w", d.name, err)
	}

	d.mu.Lock()
	d.routes[virq] = Route{VIRQ: virq, PIRQ: pirq, Owner: owner}
	d.mu.Unlock()
	return nil
}

// UnrouteIRQ drops a route created by RouteIRQ.
func (d *Domain) UnrouteIRQ(virq uint32) {
	d.mu.Lock()
	r, ok := d.routes[virq]
	delete(d.routes, virq)
	d.mu.Unlock()
	if !ok {
		return
	}
	d.virqs.Release(virq)
	d.hostIRQs.Release(r.PIRQ)
}

// Route returns the route bound to virq.
func (d *Domain) Route(virq uint32) (Route, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.routes[virq]
	return r, ok
}

// NumRouted returns how many virqs are routed.
func (d *Domain) NumRouted() int {
	return int(d.virqs.Count())
}

// RoutedIRQs returns the routed virqs in ascending order.
func (d *Domain) RoutedIRQs() []uint32 {
	return d.virqs.Lines()
}

// Finalize freezes the trap table. The domain can run afterwards.
func (d *Domain) Finalize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.traps != nil {
		return ErrFinalized
	}
	traps, err := d.builder.Build()
	if err != nil {
		return fmt.Errorf("domain: %s: %w", d.name, err)
	}
	d.traps = traps
	return nil
}

// HandleMMIO is the stage-2 fault entry for a guest access at addr.
// Accesses to directly mapped ranges never get here on hardware.
func (d *Domain) HandleMMIO(vcpu int, addr uint64, data []byte, isWrite bool) error {
	d.mu.Lock()
	traps := d.traps
	d.mu.Unlock()
	if traps == nil {
		return ErrNotFinalized
	}
	if m, ok := d.space.Lookup(addr); ok {
		return fmt.Errorf("domain: %s: access 0x%x hit direct mapping %s", d.name, addr, m.Name)
	}
	ctx := hv.SimpleExitContext{Domain: d.id, VCPU: vcpu}
	return traps.HandleMMIO(ctx, addr, data, isWrite)
}

// Traps reports whether an access at addr would trap to a handler.
func (d *Domain) Traps(addr, size uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.traps == nil {
		return false
	}
	return d.traps.Covers(addr, size)
}
