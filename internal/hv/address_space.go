package hv

import (
	"fmt"
	"sort"
	"sync"

	"gvisor.dev/gvisor/pkg/hostarch"
)

// Mapping is a trap-free guest-physical to machine-physical window.
type Mapping struct {
	Name  string
	Guest uint64
	Host  uint64
	Size  uint64
}

func (m Mapping) guestRange() hostarch.AddrRange {
	return hostarch.AddrRange{Start: hostarch.Addr(m.Guest), End: hostarch.Addr(m.Guest + m.Size)}
}

func (m Mapping) hostRange() hostarch.AddrRange {
	return hostarch.AddrRange{Start: hostarch.Addr(m.Host), End: hostarch.Addr(m.Host + m.Size)}
}

// AddressSpace tracks the stage-2 MMIO mappings of a domain.
// Accesses that hit a mapping reach hardware directly; everything else traps.
type AddressSpace struct {
	mu sync.Mutex

	caps     *IOMemCaps
	mappings []Mapping
}

// NewAddressSpace creates an empty stage-2 map. When caps is non-nil every
// Map call is checked against it.
func NewAddressSpace(caps *IOMemCaps) *AddressSpace {
	return &AddressSpace{caps: caps}
}

// Map installs a page-aligned direct mapping of size bytes.
func (a *AddressSpace) Map(name string, guest, host, size uint64) error {
	if size == 0 {
		return fmt.Errorf("address_space: cannot map zero-size region %s", name)
	}
	if !hostarch.Addr(guest).IsPageAligned() || !hostarch.Addr(host).IsPageAligned() || !hostarch.Addr(size).IsPageAligned() {
		return fmt.Errorf("address_space: region %s [0x%x+0x%x) -> 0x%x is not page aligned", name, guest, size, host)
	}
	if guest+size < guest || host+size < host {
		return fmt.Errorf("address_space: region %s overflows", name)
	}
	if a.caps != nil && !a.caps.Permitted(host, size) {
		return fmt.Errorf("address_space: map %s machine [0x%x-0x%x): %w", name, host, host+size, ErrAccessDenied)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	want := hostarch.AddrRange{Start: hostarch.Addr(guest), End: hostarch.Addr(guest + size)}
	for _, existing := range a.mappings {
		if existing.guestRange().Overlaps(want) {
			return fmt.Errorf("address_space: %s [0x%x-0x%x) overlaps %s: %w",
				name, guest, guest+size, existing.Name, ErrRegionOverlap)
		}
	}

	a.mappings = append(a.mappings, Mapping{Name: name, Guest: guest, Host: host, Size: size})
	sort.Slice(a.mappings, func(i, j int) bool { return a.mappings[i].Guest < a.mappings[j].Guest })
	return nil
}

// Unmap removes [guest, guest+size) from every mapping it intersects,
// splitting mappings that only partially overlap. It fails with ErrNotMapped
// when nothing in the range was mapped.
func (a *AddressSpace) Unmap(guest, size uint64) error {
	if size == 0 {
		return fmt.Errorf("address_space: cannot unmap zero-size range at 0x%x", guest)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	cut := hostarch.AddrRange{Start: hostarch.Addr(guest), End: hostarch.Addr(guest + size)}
	removed := false
	var out []Mapping
	for _, m := range a.mappings {
		r := m.guestRange()
		if !r.Overlaps(cut) {
			out = append(out, m)
			continue
		}
		removed = true
		if r.Start < cut.Start {
			head := m
			head.Size = uint64(cut.Start - r.Start)
			out = append(out, head)
		}
		if r.End > cut.End {
			skip := uint64(cut.End - r.Start)
			out = append(out, Mapping{
				Name:  m.Name,
				Guest: m.Guest + skip,
				Host:  m.Host + skip,
				Size:  m.Size - skip,
			})
		}
	}
	if !removed {
		return fmt.Errorf("address_space: unmap [0x%x-0x%x): %w", guest, guest+size, ErrNotMapped)
	}
	a.mappings = out
	return nil
}

// UnmapHost removes every part of every mapping that exposes machine range
// [host, host+size), whatever guest address it sits at. It returns the
// number of mappings it cut and fails with ErrNotMapped when there were none.
func (a *AddressSpace) UnmapHost(host, size uint64) (int, error) {
	if size == 0 || host+size < host {
		return 0, fmt.Errorf("address_space: invalid host range 0x%x+0x%x", host, size)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	cut := hostarch.AddrRange{Start: hostarch.Addr(host), End: hostarch.Addr(host + size)}
	cuts := 0
	var out []Mapping
	for _, m := range a.mappings {
		r := m.hostRange()
		if !r.Overlaps(cut) {
			out = append(out, m)
			continue
		}
		cuts++
		if r.Start < cut.Start {
			head := m
			head.Size = uint64(cut.Start - r.Start)
			out = append(out, head)
		}
		if r.End > cut.End {
			skip := uint64(cut.End - r.Start)
			out = append(out, Mapping{
				Name:  m.Name,
				Guest: m.Guest + skip,
				Host:  m.Host + skip,
				Size:  m.Size - skip,
			})
		}
	}
	if cuts == 0 {
		return 0, fmt.Errorf("address_space: unmap machine [0x%x-0x%x): %w", host, host+size, ErrNotMapped)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Guest < out[j].Guest })
	a.mappings = out
	return cuts, nil
}

// Lookup returns the mapping containing the guest address.
func (a *AddressSpace) Lookup(guest uint64) (Mapping, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, m := range a.mappings {
		if m.guestRange().Contains(hostarch.Addr(guest)) {
			return m, true
		}
	}
	return Mapping{}, false
}

// MapsHost reports whether any mapping exposes part of the machine range.
func (a *AddressSpace) MapsHost(host, size uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	want := hostarch.AddrRange{Start: hostarch.Addr(host), End: hostarch.Addr(host + size)}
	for _, m := range a.mappings {
		if m.hostRange().Overlaps(want) {
			return true
		}
	}
	return false
}

// Mappings returns a copy of all mappings ordered by guest address.
func (a *AddressSpace) Mappings() []Mapping {
	a.mu.Lock()
	defer a.mu.Unlock()

	result := make([]Mapping, len(a.mappings))
	copy(result, a.mappings)
	return result
}
