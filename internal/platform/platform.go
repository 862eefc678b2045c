// Package platform holds the per-SoC descriptors the controlling system
// selects from the device tree's root compatible list.
package platform

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tinyrange/crossbar/internal/crossbar"
	"github.com/tinyrange/crossbar/internal/fdt"
	"github.com/tinyrange/crossbar/internal/iomem"
)

var (
	ErrNotFound     = errors.New("platform: no matching platform")
	ErrUnsupported  = errors.New("platform: operation not supported")
	ErrDuplicate    = errors.New("platform: compatible already registered")
	ErrInvalidCells = errors.New("platform: invalid interrupt cells")
)

// Domain is what SpecificMapping needs from the hardware domain.
type Domain interface {
	crossbar.Domain
	MapMMIO(name string, guest, host, size uint64) error
}

// Platform is the capability set of one SoC.
type Platform interface {
	Name() string
	Compatible() []string

	// InitTime programs the platform timer source.
	InitTime(m iomem.Mapper) error
	// SpecificMapping adds mappings the device tree does not describe to
	// the hardware domain.
	SpecificMapping(d Domain) error
	// SMPInit points secondary cores at trampoline, the physical address
	// of the secondary entry stub.
	SMPInit(m iomem.Mapper, trampoline uint64) error

	IRQTranslate(cells []uint32) (hwirq, typ uint32, err error)
	IRQIsRoutable(controller fdt.Node) bool
}

// Registry maps compatible strings to platforms.
type Registry struct {
	mu        sync.Mutex
	byCompat  map[string]Platform
	platforms []Platform
}

func NewRegistry() *Registry {
	return &Registry{byCompat: make(map[string]Platform)}
}

// Register adds a platform under each of its compatible strings.
func (r *Registry) Register(p Platform) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	compat := p.Compatible()
	if len(compat) == 0 {
		return fmt.Errorf("platform: %s has no compatible strings", p.Name())
	}
	for _, c := range compat {
		if prev, ok := r.byCompat[c]; ok {
			return fmt.Errorf("%w: %q (%s, %s)", ErrDuplicate, c, prev.Name(), p.Name())
		}
	}
	for _, c := range compat {
		r.byCompat[c] = p
	}
	r.platforms = append(r.platforms, p)
	return nil
}

// Lookup returns the platform matching the first known compatible string,
// in the order given (most specific first, as in a device tree).
func (r *Registry) Lookup(compatibles ...string) (Platform, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range compatibles {
		if p, ok := r.byCompat[c]; ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrNotFound, compatibles)
}

// Names lists registered platform names.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.platforms))
	for _, p := range r.platforms {
		names = append(names, p.Name())
	}
	sort.Strings(names)
	return names
}
