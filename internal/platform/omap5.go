package platform

import (
	"fmt"
	"log/slog"

	"github.com/tinyrange/crossbar/internal/crossbar"
	"github.com/tinyrange/crossbar/internal/fdt"
	"github.com/tinyrange/crossbar/internal/iomem"
	"gvisor.dev/gvisor/pkg/hostarch"
)

// Realtime counter
const (
	RealtimeCounterBase              = 0x48243200
	IncrementerNumeratorOffset       = 0x10
	IncrementerDenumeratorReloadOff  = 0x14
	NumeratorDenumeratorMask         = 0xfffff000
	PRMFracIncrementerDenumeratorRel = 0x00010000
)

// Power/reset and clock generation
const (
	OMAP5L4Wkup       = 0x4AE00000
	OMAP5PRMBase      = OMAP5L4Wkup + 0x6000
	OMAP5CkgenPRMBase = OMAP5PRMBase + 0x100
	OMAP5CMClkselSys  = 0x10
	SysClkselMask     = 0xfffffff8
)

// Fixed regions mapped into the hardware domain
const (
	OMAP5PRCMMPUBase = 0x48243000
	OMAP5WkupgenBase = 0x48281000
	OMAP5SRAMBase    = 0x40300000
)

// Wakeup generator secondary boot registers
const (
	AuxCoreBoot0Offset = 0x800
	AuxCoreBoot1Offset = 0x804

	auxCoreBoot0Release = 0x20
)

// numDen holds the realtime counter numerator/denominator for each
// SYS_CLKSEL value so the counter ticks at 6.144 MHz.
var numDen = [8][2]uint32{
	{0, 0},              // not used
	{26 * 64, 26 * 125}, // 12.0 MHz
	{2 * 768, 2 * 1625}, // 13.0 MHz
	{0, 0},              // not used
	{130 * 8, 130 * 25}, // 19.2 MHz
	{2 * 384, 2 * 1625}, // 26.0 MHz
	{3 * 256, 3 * 1125}, // 27.0 MHz
	{130 * 4, 130 * 25}, // 38.4 MHz
}

type fixedRegion struct {
	name  string
	base  uint64
	pages uint64
}

// Regions the device tree does not describe.
var hardwareDomainRegions = []fixedRegion{
	{name: "prm", base: OMAP5PRMBase, pages: 2},
	{name: "prcm-mpu", base: OMAP5PRCMMPUBase, pages: 1},
	{name: "wkupgen", base: OMAP5WkupgenBase, pages: 1},
	{name: "sram", base: OMAP5SRAMBase, pages: 32},
}

// TI is the descriptor shared by the OMAP5 and DRA7 families. DRA7 parts
// with an interrupt crossbar carry a crossbar controller.
type TI struct {
	name       string
	compatible []string
	xbar       *crossbar.Controller
}

// NewOMAP5 returns the OMAP5 descriptor.
func NewOMAP5() *TI {
	return &TI{name: "TI OMAP5", compatible: []string{"ti,omap5"}}
}

// NewDRA7 returns the DRA7 descriptor. xbar may be nil for parts without a
// crossbar.
func NewDRA7(xbar *crossbar.Controller) *TI {
	return &TI{name: "TI DRA7", compatible: []string{"ti,dra7"}, xbar: xbar}
}

// RegisterTI adds the OMAP5 and DRA7 descriptors to r.
func RegisterTI(r *Registry, xbar *crossbar.Controller) error {
	for _, p := range []Platform{NewOMAP5(), NewDRA7(xbar)} {
		if err := r.Register(p); err != nil {
			return err
		}
	}
	return nil
}

func (p *TI) Name() string         { return p.name }
func (p *TI) Compatible() []string { return append([]string(nil), p.compatible...) }

// Crossbar returns the crossbar controller, if any.
func (p *TI) Crossbar() *crossbar.Controller { return p.xbar }

// InitTime fixes up the realtime counter increment for the system clock.
func (p *TI) InitTime(m iomem.Mapper) error {
	ckgen, err := m.Map(OMAP5CkgenPRMBase, 0x20)
	if err != nil {
		return fmt.Errorf("platform: map CKGEN_PRM: %w", err)
	}
	raw, err := ckgen.Read(OMAP5CMClkselSys, 4)
	ckgen.Close()
	if err != nil {
		return fmt.Errorf("platform: read CM_CLKSEL_SYS: %w", err)
	}
	sel := raw &^ SysClkselMask
	want := numDen[sel]
	if want[0] == 0 {
		return fmt.Errorf("platform: %w: SYS_CLKSEL %d", ErrUnsupported, sel)
	}

	rt, err := m.Map(RealtimeCounterBase, 0x20)
	if err != nil {
		return fmt.Errorf("platform: map realtime counter: %w", err)
	}
	defer rt.Close()

	frac1, err := rt.Read(IncrementerNumeratorOffset, 4)
	if err != nil {
		return fmt.Errorf("platform: read numerator: %w", err)
	}
	if uint32(frac1&^NumeratorDenumeratorMask) != want[0] {
		frac1 = frac1&NumeratorDenumeratorMask | uint64(want[0])
	}

	frac2, err := rt.Read(IncrementerDenumeratorReloadOff, 4)
	if err != nil {
		return fmt.Errorf("platform: read denominator: %w", err)
	}
	if uint32(frac2&^NumeratorDenumeratorMask) != want[1] {
		frac2 = frac2&NumeratorDenumeratorMask | uint64(want[1])
	}

	if err := rt.Write(IncrementerNumeratorOffset, 4, frac1); err != nil {
		return fmt.Errorf("platform: write numerator: %w", err)
	}
	if err := rt.Write(IncrementerDenumeratorReloadOff, 4, frac2|PRMFracIncrementerDenumeratorRel); err != nil {
		return fmt.Errorf("platform: write denominator: %w", err)
	}

	slog.Debug("platform: realtime counter programmed", "clksel", sel, "num", want[0], "den", want[1])
	return nil
}

// SpecificMapping maps the fixed regions into the hardware domain and, on
// crossbar parts, puts the crossbar control page behind its guard.
func (p *TI) SpecificMapping(d Domain) error {
	page := uint64(hostarch.PageSize)
	for _, r := range hardwareDomainRegions {
		if err := d.MapMMIO(r.name, r.base, r.base, r.pages*page); err != nil {
			return fmt.Errorf("platform: %s: %w", p.name, err)
		}
	}
	if p.xbar == nil {
		return nil
	}
	if err := p.xbar.SetupDomain(d); err != nil {
		return fmt.Errorf("platform: %s: %w", p.name, err)
	}
	return nil
}

// SMPInit releases secondary cores into trampoline.
func (p *TI) SMPInit(m iomem.Mapper, trampoline uint64) error {
	if trampoline > 0xffffffff {
		return fmt.Errorf("platform: trampoline 0x%x is not 32-bit addressable", trampoline)
	}
	wugen, err := m.Map(OMAP5WkupgenBase, uint64(hostarch.PageSize))
	if err != nil {
		return fmt.Errorf("platform: map wakeup generator: %w", err)
	}
	defer wugen.Close()

	slog.Info("platform: set AuxCoreBoot1", "addr", fmt.Sprintf("0x%x", trampoline))
	if err := wugen.Write(AuxCoreBoot1Offset, 4, trampoline); err != nil {
		return fmt.Errorf("platform: write AuxCoreBoot1: %w", err)
	}
	slog.Info("platform: set AuxCoreBoot0", "value", fmt.Sprintf("0x%x", auxCoreBoot0Release))
	if err := wugen.Write(AuxCoreBoot0Offset, 4, auxCoreBoot0Release); err != nil {
		return fmt.Errorf("platform: write AuxCoreBoot0: %w", err)
	}
	return nil
}

// IRQTranslate resolves interrupt cells. Crossbar parts defer to the
// crossbar; everything else uses the plain GIC binding.
func (p *TI) IRQTranslate(cells []uint32) (uint32, uint32, error) {
	if p.xbar != nil {
		tr, err := p.xbar.Translate(cells)
		if err != nil {
			return 0, 0, err
		}
		return tr.HWIRQ, tr.Type, nil
	}
	return gicTranslate(cells)
}

// IRQIsRoutable reports whether interrupts behind controller can be routed
// to the hardware domain.
func (p *TI) IRQIsRoutable(controller fdt.Node) bool {
	if p.xbar != nil {
		return crossbar.IsRoutable(controller)
	}
	return controller.IsCompatible("arm,cortex-a15-gic")
}

// GIC binding: cell 0 selects SPI (0) or PPI (1).
const (
	gicSPI     = 0
	gicPPI     = 1
	gicSPIBase = 32
	gicPPIBase = 16
)

func gicTranslate(cells []uint32) (uint32, uint32, error) {
	if len(cells) < 3 {
		return 0, 0, fmt.Errorf("%w: %d cells", ErrInvalidCells, len(cells))
	}
	typ := cells[2] & crossbar.SenseMask
	switch cells[0] {
	case gicSPI:
		return cells[1] + gicSPIBase, typ, nil
	case gicPPI:
		return cells[1] + gicPPIBase, typ, nil
	default:
		return 0, 0, fmt.Errorf("%w: interrupt type %d", ErrInvalidCells, cells[0])
	}
}

var _ Platform = (*TI)(nil)
