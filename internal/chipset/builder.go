package chipset

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/tinyrange/crossbar/internal/hv"
)

// trap binds a guest-physical region to the handler that emulates it.
type trap struct {
	name    string
	region  hv.MMIORegion
	handler MmioHandler
}

// ChipsetBuilder collects the MMIO traps of a domain while the domain is
// being built. Traps are kept sorted by base address and never overlap.
type ChipsetBuilder struct {
	devices map[string]MmioDevice
	traps   []trap
}

// NewBuilder returns an empty ChipsetBuilder instance.
func NewBuilder() *ChipsetBuilder {
	return &ChipsetBuilder{devices: make(map[string]MmioDevice)}
}

// RegisterDevice installs every region dev intercepts under name. Either
// all of the device's regions are installed or none are.
func (b *ChipsetBuilder) RegisterDevice(name string, dev MmioDevice) error {
	switch {
	case name == "":
		return errors.New("chipset: empty device name")
	case dev == nil:
		return fmt.Errorf("chipset: device %s is nil", name)
	}
	if _, dup := b.devices[name]; dup {
		return fmt.Errorf("chipset: device %s registered twice", name)
	}

	if intercept := dev.SupportsMmio(); intercept != nil {
		if intercept.Handler == nil {
			return fmt.Errorf("chipset: device %s intercepts MMIO without a handler", name)
		}
		staged := slices.Clone(b.traps)
		for _, r := range intercept.Regions {
			var err error
			if staged, err = insertTrap(staged, trap{name: name, region: r, handler: intercept.Handler}); err != nil {
				return err
			}
		}
		b.traps = staged
	}

	b.devices[name] = dev
	return nil
}

// WithMmioRegion traps [base, base+size) to handler.
func (b *ChipsetBuilder) WithMmioRegion(name string, base, size uint64, handler MmioHandler) error {
	if handler == nil {
		return fmt.Errorf("chipset: %s: nil handler", name)
	}
	traps, err := insertTrap(b.traps, trap{
		name:    name,
		region:  hv.MMIORegion{Address: base, Size: size},
		handler: handler,
	})
	if err != nil {
		return err
	}
	b.traps = traps
	return nil
}

func insertTrap(traps []trap, t trap) ([]trap, error) {
	r := t.region
	if r.Size == 0 {
		return nil, fmt.Errorf("chipset: %s at 0x%x has zero size", t.name, r.Address)
	}
	if r.End() < r.Address {
		return nil, fmt.Errorf("chipset: %s at 0x%x size 0x%x overflows", t.name, r.Address, r.Size)
	}

	// Only the neighbours on either side can overlap a sorted, disjoint set.
	i := sort.Search(len(traps), func(i int) bool { return traps[i].region.Address >= r.Address })
	for _, j := range []int{i - 1, i} {
		if j < 0 || j >= len(traps) {
			continue
		}
		if other := traps[j]; other.region.Overlaps(r.Address, r.Size) {
			return nil, fmt.Errorf("chipset: %s %s overlaps %s %s", t.name, r, other.name, other.region)
		}
	}
	return slices.Insert(traps, i, t), nil
}

// Build freezes the trap table.
func (b *ChipsetBuilder) Build() (*Chipset, error) {
	if b == nil {
		return nil, errors.New("chipset: nil builder")
	}
	return &Chipset{traps: slices.Clone(b.traps)}, nil
}

// Chipset is the frozen MMIO trap table of a running domain.
type Chipset struct {
	traps []trap
}
