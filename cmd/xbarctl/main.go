package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/schollz/progressbar/v3"
	"github.com/tinyrange/crossbar/internal/chipset"
	"github.com/tinyrange/crossbar/internal/crossbar"
	"github.com/tinyrange/crossbar/internal/domain"
	"github.com/tinyrange/crossbar/internal/fdt"
	"github.com/tinyrange/crossbar/internal/hv"
	"github.com/tinyrange/crossbar/internal/iomem"
	"github.com/tinyrange/crossbar/internal/platform"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

const usage = `xbarctl - inspect and exercise the DRA7 interrupt crossbar

USAGE:
  xbarctl [flags] <command> [command flags]

FLAGS:
  -config FILE    Family description (YAML); overrides -family
  -family NAME    Built-in family preset (default: dra7)
  -devmem PATH    Operate on physical memory through PATH instead of simulated memory
  -v              Debug logging

COMMANDS:
  table                         Print the crossbar line table
  translate KIND ID FLAGS ...   Translate one or more interrupt descriptors
  probe -addr A [-write V] [-width N]
                                Run one guest access through the crossbar guard
  simulate [-n N] [-dt FILE [-node NAME]]
                                Bring up a simulated DRA7 hardware domain

EXAMPLES:
  xbarctl table
  xbarctl -family dra7-split translate 0 219 4 1 20 4
  xbarctl probe -addr 0x4a002a48
  xbarctl probe -addr 0x4a002a50 -write 0x12
  xbarctl simulate -n 200
`

type xbarctl struct {
	family crossbar.Family
	mapper iomem.Mapper
	mem    *iomem.Memory
	out    io.Writer
}

func (x *xbarctl) controller() (*crossbar.Controller, *chipset.LineSet, error) {
	irqs := chipset.NewLineSet(x.family.LocalIRQs + uint32(x.family.MaxLine) + 1)
	c, err := crossbar.New(x.family, x.mapper, irqs)
	if err != nil {
		return nil, nil, err
	}
	return c, irqs, nil
}

func (x *xbarctl) runTable(args []string) error {
	fs := flag.NewFlagSet("table", flag.ExitOnError)
	all := fs.Bool("all", false, "include unavailable lines")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, _, err := x.controller()
	if err != nil {
		return err
	}
	defer c.Close()

	t, err := c.Table()
	if err != nil {
		return err
	}
	fmt.Fprintf(x.out, "family %s: %d usable lines, mux 0x%x+0x%x\n",
		x.family, len(t.Usable()), x.family.MuxStart, t.Span())
	for _, line := range t.Lines() {
		if !line.Usable() && !*all {
			continue
		}
		fmt.Fprintln(x.out, line)
	}
	return nil
}

func parseCells(args []string) ([]uint32, error) {
	cells := make([]uint32, 0, len(args))
	for _, arg := range args {
		v, err := strconv.ParseUint(arg, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("parse cell %q: %w", arg, err)
		}
		cells = append(cells, uint32(v))
	}
	return cells, nil
}

func (x *xbarctl) runTranslate(args []string) error {
	fs := flag.NewFlagSet("translate", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cells, err := parseCells(fs.Args())
	if err != nil {
		return err
	}
	if len(cells) == 0 {
		return fmt.Errorf("translate: no descriptors given")
	}

	c, _, err := x.controller()
	if err != nil {
		return err
	}
	defer c.Close()

	node := fdt.Node{
		Name:       "cli",
		Properties: map[string]fdt.Property{"interrupts": {U32: cells}},
	}
	trs, err := c.TranslateNode(node)
	for _, tr := range trs {
		printTranslation(x.out, tr)
	}
	return err
}

func printTranslation(w io.Writer, tr crossbar.Translation) {
	if !tr.Routed {
		fmt.Fprintf(w, "hwirq %d type 0x%x direct\n", tr.HWIRQ, tr.Type)
		return
	}
	suffix := ""
	if tr.Clamped {
		suffix = " (shared: lines exhausted)"
	}
	fmt.Fprintf(w, "hwirq %d type 0x%x line MPU_IRQ_%d%s\n", tr.HWIRQ, tr.Type, tr.Line, suffix)
}

func (x *xbarctl) runProbe(args []string) error {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	addr := fs.Uint64("addr", 0, "guest-physical address inside the control page")
	write := fs.String("write", "", "value to write (read when empty)")
	width := fs.Int("width", 2, "access width in bytes (1, 2 or 4)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	c, _, err := x.controller()
	if err != nil {
		return err
	}
	defer c.Close()
	if _, err := c.Table(); err != nil {
		return err
	}

	d, err := c.Guard().Decide(*addr, *width)
	if err != nil {
		return err
	}
	fmt.Fprintf(x.out, "region %s verdict %s", d.Region, d.Verdict)
	if d.Line >= 0 {
		fmt.Fprintf(x.out, " line MPU_IRQ_%d", d.Line)
	}
	if d.Reason != "" {
		fmt.Fprintf(x.out, " (%s)", d.Reason)
	}
	fmt.Fprintln(x.out)

	ctx := hv.SimpleExitContext{}
	data := make([]byte, *width)
	if *write != "" {
		v, err := strconv.ParseUint(*write, 0, 32)
		if err != nil {
			return fmt.Errorf("parse -write: %w", err)
		}
		if v > iomem.Mask(*width) {
			return fmt.Errorf("-write 0x%x does not fit %d bytes", v, *width)
		}
		putLE(data, v)
		return c.Guard().WriteMMIO(ctx, *addr, data)
	}
	if err := c.Guard().ReadMMIO(ctx, *addr, data); err != nil {
		return err
	}
	fmt.Fprintf(x.out, "value 0x%x\n", getLE(data))
	return nil
}

func (x *xbarctl) runSimulate(args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	n := fs.Int("n", 16, "number of crossbar interrupts to route")
	dt := fs.String("dt", "", "device-tree node (YAML) whose interrupts are translated")
	dtNode := fs.String("node", "", "only translate the subtree under this device-tree node")
	clksel := fs.Uint("clksel", 5, "simulated SYS_CLKSEL value")
	trampoline := fs.Uint64("trampoline", 0x80008000, "secondary core entry address")
	consoleSrc := fs.Uint("console-src", 219, "crossbar source of the console UART")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if x.mem == nil {
		return fmt.Errorf("simulate: not available with -devmem")
	}

	if err := x.mem.Poke(platform.OMAP5CkgenPRMBase+platform.OMAP5CMClkselSys, 4, uint64(*clksel)); err != nil {
		return err
	}

	xbar, irqs, err := x.controller()
	if err != nil {
		return err
	}
	defer xbar.Close()

	reg := platform.NewRegistry()
	if err := platform.RegisterTI(reg, xbar); err != nil {
		return err
	}

	compat := []string{"ti,dra7"}
	var node *fdt.Node
	if *dt != "" {
		data, err := os.ReadFile(*dt)
		if err != nil {
			return fmt.Errorf("simulate: read device tree: %w", err)
		}
		node = &fdt.Node{}
		if err := yaml.Unmarshal(data, node); err != nil {
			return fmt.Errorf("simulate: parse device tree: %w", err)
		}
		if c := node.Compatible(); len(c) > 0 {
			compat = c
		}
	}
	p, err := reg.Lookup(compat...)
	if err != nil {
		return err
	}
	fmt.Fprintf(x.out, "platform %s\n", p.Name())

	if err := p.InitTime(x.mem); err != nil {
		return err
	}
	if err := p.SMPInit(x.mem, *trampoline); err != nil {
		return err
	}

	// The console line is claimed by the controlling system before any
	// domain exists.
	hwirq, _, err := p.IRQTranslate([]uint32{0, uint32(*consoleSrc), crossbar.SenseLevelHigh})
	if err != nil {
		return fmt.Errorf("simulate: console: %w", err)
	}
	if err := irqs.Claim(hwirq, "console"); err != nil {
		return fmt.Errorf("simulate: console: %w", err)
	}
	fmt.Fprintf(x.out, "console hwirq %d\n", hwirq)

	if node != nil {
		sub := *node
		if *dtNode != "" {
			found, ok := node.Find(*dtNode)
			if !ok {
				return fmt.Errorf("simulate: no node %q in %s", *dtNode, *dt)
			}
			sub = found
		}
		if err := translateTree(x.out, p, sub); err != nil {
			return err
		}
	}

	var bar *progressbar.ProgressBar
	if term.IsTerminal(int(os.Stdout.Fd())) {
		bar = progressbar.Default(int64(*n), "routing")
	}
	for i := range *n {
		src := (uint32(*consoleSrc) + 1 + uint32(i)) & 0xffff
		if _, _, err := p.IRQTranslate([]uint32{0, src, crossbar.SenseLevelHigh}); err != nil {
			return fmt.Errorf("simulate: route source %d: %w", src, err)
		}
		if bar != nil {
			bar.Add(1)
		}
	}
	if bar != nil {
		bar.Close()
	}

	dom0, err := domain.New(domain.Config{
		ID:       0,
		Name:     "dom0",
		Hardware: true,
		NumIRQs:  irqs.Size(),
		HostIRQs: irqs,
	})
	if err != nil {
		return err
	}
	// The device tree maps the control module page into the hardware
	// domain; platform setup must take it back.
	f := xbar.Family()
	if err := dom0.MapMMIO("ctrl-module", f.ControlBase, f.ControlBase, f.ControlSize); err != nil {
		return err
	}
	if err := p.SpecificMapping(dom0); err != nil {
		return err
	}
	if err := dom0.Finalize(); err != nil {
		return err
	}
	fmt.Fprintf(x.out, "dom0: %d mappings, %d routed interrupts\n",
		len(dom0.AddressSpace().Mappings()), dom0.NumRouted())

	if err := dom0.MapMMIO("ctrl-remap", f.ControlBase, f.ControlBase, f.ControlSize); err != nil {
		fmt.Fprintf(x.out, "remap control page: %v\n", err)
	} else {
		return fmt.Errorf("simulate: control page could be remapped")
	}

	if err := probeGuard(x.out, dom0, xbar); err != nil {
		return err
	}

	st := xbar.Stats()
	fmt.Fprintf(x.out, "allocations %d exhaustions %d denials %d pass-throughs %d cursor %d remaining %d\n",
		st.Allocations, st.Exhaustions, st.Denials, st.PassThroughs, xbar.Cursor(), xbar.Remaining())
	return nil
}

func translateTree(w io.Writer, p platform.Platform, n fdt.Node) error {
	if _, ok := n.U32("interrupts"); ok {
		groups, err := n.Interrupts(crossbar.DescriptorCells)
		if err != nil {
			return err
		}
		for _, cells := range groups {
			hwirq, typ, err := p.IRQTranslate(cells)
			if err != nil {
				fmt.Fprintf(w, "%s: %v\n", n.Name, err)
				continue
			}
			fmt.Fprintf(w, "%s: hwirq %d type 0x%x\n", n.Name, hwirq, typ)
		}
	}
	for _, child := range n.Children {
		if err := translateTree(w, p, child); err != nil {
			return err
		}
	}
	return nil
}

type guardProbe struct {
	name string
	addr uint64
}

func probeGuard(w io.Writer, d *domain.Domain, xbar *crossbar.Controller) error {
	f := xbar.Family()
	t, err := xbar.Table()
	if err != nil {
		return err
	}
	mux := f.ControlBase + f.MuxStart

	probes := []guardProbe{
		{"control register", f.ControlBase},
		{"console line", mux},
		{"odd offset", mux + 1},
	}
	if first := t.Usable(); len(first) > 1 {
		l, _ := t.Line(first[1])
		probes = append(probes, guardProbe{fmt.Sprintf("MPU_IRQ_%d", l.Index), mux + uint64(l.Offset)})
	}

	for _, pr := range probes {
		data := make([]byte, 2)
		if err := d.HandleMMIO(0, pr.addr, data, false); err != nil {
			return fmt.Errorf("probe %s: %w", pr.name, err)
		}
		fmt.Fprintf(w, "probe %-16s 0x%x -> 0x%x\n", pr.name, pr.addr, getLE(data))
	}
	return nil
}

func putLE(data []byte, v uint64) {
	for i := range data {
		data[i] = byte(v >> (8 * i))
	}
}

func getLE(data []byte) uint64 {
	var v uint64
	for i := range data {
		v |= uint64(data[i]) << (8 * i)
	}
	return v
}

func run(args []string) error {
	fs := flag.NewFlagSet("xbarctl", flag.ExitOnError)
	config := fs.String("config", "", "family description (YAML)")
	family := fs.String("family", crossbar.DefaultFamily, "built-in family preset")
	devmem := fs.String("devmem", "", "physical memory device")
	verbose := fs.Bool("v", false, "debug logging")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	x := &xbarctl{out: os.Stdout}

	if *config != "" {
		f, err := crossbar.LoadFamily(*config)
		if err != nil {
			return err
		}
		x.family = f
	} else {
		f, ok := crossbar.Preset(*family)
		if !ok {
			return fmt.Errorf("unknown family %q (have %v)", *family, crossbar.Presets())
		}
		x.family = f
	}

	if *devmem != "" {
		m, err := hostMapper(*devmem)
		if err != nil {
			return err
		}
		x.mapper = m
	} else {
		x.mem = iomem.NewMemory()
		x.mapper = x.mem
	}

	if fs.NArg() < 1 {
		fs.Usage()
		return errUsage
	}
	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "table":
		return x.runTable(rest)
	case "translate":
		return x.runTranslate(rest)
	case "probe":
		return x.runProbe(rest)
	case "simulate":
		return x.runSimulate(rest)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

var errUsage = errors.New("missing command")

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "xbarctl: %v\n", err)
		os.Exit(1)
	}
}
