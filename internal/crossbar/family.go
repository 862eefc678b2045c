package crossbar

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// LineRange is an inclusive range of usable crossbar line indices.
type LineRange struct {
	First int `yaml:"first"`
	Last  int `yaml:"last"`
}

func (r LineRange) contains(i int) bool {
	return i >= r.First && i <= r.Last
}

// Family holds the SoC-family constants the crossbar logic depends on.
type Family struct {
	Name        string      `yaml:"name"`
	MaxLine     int         `yaml:"maxLine"`
	ConsoleLine int         `yaml:"consoleLine"`
	Ranges      []LineRange `yaml:"ranges"`

	// Layout, when set, lists the ranges that own a mux field. Ranges then
	// only select which of those lines may be routed; the lines left out
	// keep their field and offset but are never used.
	Layout []LineRange `yaml:"layout,omitempty"`

	// ControlBase/ControlSize describe the trapped control page.
	ControlBase uint64 `yaml:"controlBase"`
	ControlSize uint64 `yaml:"controlSize"`
	// MuxStart is the byte offset of the first mux field inside the page.
	MuxStart uint64 `yaml:"muxStart"`
	// MuxEnd is the last byte offset treated as mux space. Zero derives it
	// from the line table.
	MuxEnd uint64 `yaml:"muxEnd,omitempty"`

	// LocalIRQs is the number of controller-local interrupts crossbar lines
	// are numbered after; SPIBase the offset for direct-wired interrupts.
	LocalIRQs uint32 `yaml:"localIRQs"`
	SPIBase   uint32 `yaml:"spiBase"`
}

const (
	dra7ControlBase = 0x4A002000
	dra7MuxStart    = 0xA48
)

var presets = map[string]Family{
	// Ranges used when the hardware domain is set up.
	"dra7": {
		Name:        "dra7",
		MaxLine:     159,
		ConsoleLine: 4,
		Ranges:      []LineRange{{First: 7, Last: 130}, {First: 133, Last: 159}},
		ControlBase: dra7ControlBase,
		ControlSize: 0x1000,
		MuxStart:    dra7MuxStart,
		LocalIRQs:   32,
		SPIBase:     16,
	},
	// Ranges used by the early console translation path, which skips
	// lines 139 and 140. The mux fields stay where dra7 puts them, so
	// MPU_IRQ_141 is still at offset 266.
	"dra7-split": {
		Name:        "dra7-split",
		MaxLine:     159,
		ConsoleLine: 4,
		Ranges:      []LineRange{{First: 7, Last: 130}, {First: 133, Last: 138}, {First: 141, Last: 159}},
		Layout:      []LineRange{{First: 7, Last: 130}, {First: 133, Last: 159}},
		ControlBase: dra7ControlBase,
		ControlSize: 0x1000,
		MuxStart:    dra7MuxStart,
		LocalIRQs:   32,
		SPIBase:     16,
	},
}

// DefaultFamily is the preset used when nothing else is configured.
const DefaultFamily = "dra7"

// Preset returns a copy of a built-in family.
func Preset(name string) (Family, bool) {
	f, ok := presets[name]
	if !ok {
		return Family{}, false
	}
	f.Ranges = append([]LineRange(nil), f.Ranges...)
	if f.Layout != nil {
		f.Layout = append([]LineRange(nil), f.Layout...)
	}
	return f, true
}

// Presets lists the built-in family names.
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseFamily decodes a YAML family description. Fields left out inherit
// from the preset named by "base" (or "name", or DefaultFamily).
func ParseFamily(data []byte) (Family, error) {
	var head struct {
		Base string `yaml:"base"`
		Name string `yaml:"name"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return Family{}, fmt.Errorf("crossbar: parse family: %w", err)
	}

	base := head.Base
	if base == "" {
		if _, ok := presets[head.Name]; ok {
			base = head.Name
		} else {
			base = DefaultFamily
		}
	}
	f, ok := Preset(base)
	if !ok {
		return Family{}, fmt.Errorf("%w: unknown base family %q", ErrInvalidFamily, base)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Family{}, fmt.Errorf("crossbar: parse family: %w", err)
	}
	if err := f.Validate(); err != nil {
		return Family{}, err
	}
	return f, nil
}

// LoadFamily reads a YAML family description from disk.
func LoadFamily(path string) (Family, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Family{}, fmt.Errorf("crossbar: read family %s: %w", path, err)
	}
	return ParseFamily(data)
}

// Usable reports whether line i can carry a routed interrupt. Table
// construction and allocation both go through this predicate.
func (f Family) Usable(i int) bool {
	if i < 0 || i > f.MaxLine {
		return false
	}
	if i == f.ConsoleLine {
		return true
	}
	for _, r := range f.Ranges {
		if r.contains(i) {
			return true
		}
	}
	return false
}

// HasField reports whether line i owns a mux field.
func (f Family) HasField(i int) bool {
	if len(f.Layout) == 0 {
		return f.Usable(i)
	}
	if i < 0 || i > f.MaxLine {
		return false
	}
	if i == f.ConsoleLine {
		return true
	}
	for _, r := range f.Layout {
		if r.contains(i) {
			return true
		}
	}
	return false
}

// fieldCount returns the number of mux fields.
func (f Family) fieldCount() int {
	n := 0
	for i := 0; i <= f.MaxLine; i++ {
		if f.HasField(i) {
			n++
		}
	}
	return n
}

// UsableCount returns the number of usable lines.
func (f Family) UsableCount() int {
	n := 0
	for i := 0; i <= f.MaxLine; i++ {
		if f.Usable(i) {
			n++
		}
	}
	return n
}

// Validate checks the family for internal consistency.
func (f Family) Validate() error {
	if f.MaxLine < 0 {
		return fmt.Errorf("%w: maxLine %d", ErrInvalidFamily, f.MaxLine)
	}
	if f.ConsoleLine < 0 || f.ConsoleLine > f.MaxLine {
		return fmt.Errorf("%w: console line %d outside 0..%d", ErrInvalidFamily, f.ConsoleLine, f.MaxLine)
	}
	for i, r := range f.Ranges {
		if r.First > r.Last {
			return fmt.Errorf("%w: range %d-%d is inverted", ErrInvalidFamily, r.First, r.Last)
		}
		if r.First < 0 || r.Last > f.MaxLine {
			return fmt.Errorf("%w: range %d-%d outside 0..%d", ErrInvalidFamily, r.First, r.Last, f.MaxLine)
		}
		// The console line must be the first usable line so the first
		// allocation lands on it.
		if r.First <= f.ConsoleLine {
			return fmt.Errorf("%w: range %d-%d starts at or before console line %d", ErrInvalidFamily, r.First, r.Last, f.ConsoleLine)
		}
		for _, other := range f.Ranges[i+1:] {
			if r.First <= other.Last && other.First <= r.Last {
				return fmt.Errorf("%w: ranges %d-%d and %d-%d overlap", ErrInvalidFamily, r.First, r.Last, other.First, other.Last)
			}
		}
	}
	for _, r := range f.Layout {
		if r.First > r.Last || r.First < 0 || r.Last > f.MaxLine {
			return fmt.Errorf("%w: layout range %d-%d outside 0..%d", ErrInvalidFamily, r.First, r.Last, f.MaxLine)
		}
	}
	for i := 0; i <= f.MaxLine; i++ {
		if f.Usable(i) && !f.HasField(i) {
			return fmt.Errorf("%w: usable line %d has no mux field in the layout", ErrInvalidFamily, i)
		}
	}
	if f.ControlSize == 0 {
		return fmt.Errorf("%w: control region has zero size", ErrInvalidFamily)
	}
	span := 2 * uint64(f.fieldCount())
	if f.MuxStart+span > f.ControlSize {
		return fmt.Errorf("%w: mux window 0x%x+0x%x exceeds control region size 0x%x", ErrInvalidFamily, f.MuxStart, span, f.ControlSize)
	}
	if f.MuxEnd != 0 && (f.MuxEnd < f.MuxStart || f.MuxEnd >= f.ControlSize) {
		return fmt.Errorf("%w: mux end 0x%x outside 0x%x..0x%x", ErrInvalidFamily, f.MuxEnd, f.MuxStart, f.ControlSize-1)
	}
	return nil
}

// String renders the usable set the way the line predicate sees it.
func (f Family) String() string {
	s := fmt.Sprintf("%s{%d", f.Name, f.ConsoleLine)
	for _, r := range f.Ranges {
		s += fmt.Sprintf(",%d-%d", r.First, r.Last)
	}
	return s + "}"
}
