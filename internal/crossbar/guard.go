package crossbar

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyrange/crossbar/internal/chipset"
	"github.com/tinyrange/crossbar/internal/hv"
	"golang.org/x/time/rate"
)

// Region classifies where in the control page an access landed.
type Region int

const (
	// RegionControl is the unrelated control registers sharing the page.
	RegionControl Region = iota
	// RegionMux is the crossbar mux fields.
	RegionMux
)

func (r Region) String() string {
	switch r {
	case RegionControl:
		return "control"
	case RegionMux:
		return "mux"
	default:
		return fmt.Sprintf("Region(%d)", int(r))
	}
}

// Verdict is what the guard does with an access.
type Verdict int

const (
	PassThrough Verdict = iota
	Deny
)

func (v Verdict) String() string {
	switch v {
	case PassThrough:
		return "pass-through"
	case Deny:
		return "deny"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

// Decision is the outcome of classifying one guest access.
type Decision struct {
	Region  Region
	Verdict Verdict
	// Offset is the access offset from the start of the control page.
	Offset uint64
	// Line is the first mux line the access touches, or -1.
	Line   int
	Reason string
}

// Err returns ErrAccessDenied with the reason for denied decisions.
func (d Decision) Err() error {
	if d.Verdict != Deny {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrAccessDenied, d.Reason)
}

// Guard traps guest access to the crossbar control page. Mux fields of
// usable, unreserved lines and every non-mux register pass through to
// hardware; everything else reads as zero and ignores writes.
type Guard struct {
	c *Controller

	// Denials are guest triggerable; keep them from flooding the log.
	denyLog *rate.Limiter
}

func newGuard(c *Controller) *Guard {
	return &Guard{
		c:       c,
		denyLog: rate.NewLimiter(rate.Every(time.Second), 10),
	}
}

// Region returns the trapped physical range.
func (g *Guard) Region() hv.MMIORegion {
	return hv.MMIORegion{Address: g.c.family.ControlBase, Size: g.c.family.ControlSize}
}

// SupportsMmio implements chipset.MmioDevice.
func (g *Guard) SupportsMmio() *chipset.MmioIntercept {
	return &chipset.MmioIntercept{
		Regions: []hv.MMIORegion{g.Region()},
		Handler: g,
	}
}

// Decide classifies an access of width bytes at guest-physical addr.
func (g *Guard) Decide(addr uint64, width int) (Decision, error) {
	snap := g.c.snap.Load()
	if snap == nil {
		return Decision{}, fmt.Errorf("crossbar: guard used before controller initialization")
	}
	return g.decide(snap.table, addr, width)
}

func (g *Guard) decide(t *LineTable, addr uint64, width int) (Decision, error) {
	region := g.Region()
	if width <= 0 || !region.Contains(addr, uint64(width)) {
		return Decision{}, fmt.Errorf("crossbar: access 0x%x width %d outside control region %s", addr, width, region)
	}

	delta := addr - region.Address
	last := delta + uint64(width) - 1
	muxStart, muxEnd := g.c.family.MuxStart, g.c.muxEnd(t)

	d := Decision{Offset: delta, Line: -1}
	if last < muxStart || delta > muxEnd {
		d.Region = RegionControl
		d.Verdict = PassThrough
		return d, nil
	}

	d.Region = RegionMux
	if delta < muxStart || last > muxEnd {
		d.Verdict = Deny
		d.Reason = "access straddles the mux window"
		return d, nil
	}

	local := int(delta - muxStart)
	if local%2 != 0 {
		d.Verdict = Deny
		d.Reason = fmt.Sprintf("offset 0x%x is not a mux field", local)
		return d, nil
	}

	// Every field the access covers must belong to a grantable line.
	for off := local; off < local+width; off += 2 {
		line, ok := t.LineByOffset(off)
		if d.Line < 0 && ok {
			d.Line = line.Index
		}
		if !ok {
			d.Verdict = Deny
			d.Reason = fmt.Sprintf("offset 0x%x matches no line", off)
			return d, nil
		}
		if line.Reserved {
			d.Line = line.Index
			d.Verdict = Deny
			d.Reason = fmt.Sprintf("MPU_IRQ_%d is reserved", line.Index)
			return d, nil
		}
	}
	d.Verdict = PassThrough
	return d, nil
}

// ReadMMIO implements chipset.MmioHandler.
func (g *Guard) ReadMMIO(ctx hv.ExitContext, addr uint64, data []byte) error {
	snap, d, err := g.classify(addr, len(data))
	if err != nil {
		return err
	}
	if d.Verdict == Deny {
		clear(data)
		g.denied(ctx, addr, d, false)
		return nil
	}

	v, err := snap.bank.Read(d.Offset, len(data))
	if err != nil {
		return fmt.Errorf("crossbar: read 0x%x: %w", addr, err)
	}
	putValue(data, v)
	g.passed(ctx, addr, d, false, v)
	return nil
}

// WriteMMIO implements chipset.MmioHandler.
func (g *Guard) WriteMMIO(ctx hv.ExitContext, addr uint64, data []byte) error {
	snap, d, err := g.classify(addr, len(data))
	if err != nil {
		return err
	}
	if d.Verdict == Deny {
		g.denied(ctx, addr, d, true)
		return nil
	}

	v := getValue(data)
	if err := snap.bank.Write(d.Offset, len(data), v); err != nil {
		return fmt.Errorf("crossbar: write 0x%x: %w", addr, err)
	}
	g.passed(ctx, addr, d, true, v)
	return nil
}

func (g *Guard) classify(addr uint64, width int) (*snapshot, Decision, error) {
	snap := g.c.snap.Load()
	if snap == nil {
		return nil, Decision{}, fmt.Errorf("crossbar: guard used before controller initialization")
	}
	switch width {
	case 1, 2, 4:
	default:
		return nil, Decision{}, fmt.Errorf("crossbar: unsupported access width %d at 0x%x", width, addr)
	}
	d, err := g.decide(snap.table, addr, width)
	if err != nil {
		return nil, Decision{}, err
	}
	return snap, d, nil
}

func (g *Guard) denied(ctx hv.ExitContext, addr uint64, d Decision, write bool) {
	g.c.stats.Denials.Add(1)
	if !g.denyLog.Allow() {
		return
	}
	attrs := []any{
		"addr", fmt.Sprintf("0x%x", addr),
		"write", write,
		"err", d.Err(),
	}
	if ctx != nil {
		attrs = append(attrs, "domain", ctx.DomainID(), "vcpu", ctx.VCPUID())
	}
	if d.Line >= 0 {
		attrs = append(attrs, "line", d.Line, "gic_id", d.Line+int(g.c.family.LocalIRQs))
	}
	slog.Warn("crossbar: guest access to crossbar register forbidden", attrs...)
}

func (g *Guard) passed(ctx hv.ExitContext, addr uint64, d Decision, write bool, v uint64) {
	g.c.stats.PassThroughs.Add(1)
	slog.Debug("crossbar: guest access passed through",
		"addr", fmt.Sprintf("0x%x", addr), "region", d.Region, "line", d.Line, "write", write, "value", v)
}

func putValue(data []byte, v uint64) {
	switch len(data) {
	case 1:
		data[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(data, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(data, uint32(v))
	}
}

func getValue(data []byte) uint64 {
	switch len(data) {
	case 1:
		return uint64(data[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(data))
	case 4:
		return uint64(binary.LittleEndian.Uint32(data))
	}
	return 0
}

var (
	_ chipset.MmioHandler = (*Guard)(nil)
	_ chipset.MmioDevice  = (*Guard)(nil)
)
