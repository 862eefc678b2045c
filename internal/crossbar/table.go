package crossbar

import "fmt"

// Unavailable is the offset of a line that cannot be routed.
const Unavailable = -1

// Line describes one crossbar line.
type Line struct {
	Index    int
	Offset   int
	Reserved bool
}

func (l Line) Usable() bool {
	return l.Offset != Unavailable
}

func (l Line) String() string {
	switch {
	case !l.Usable():
		return fmt.Sprintf("MPU_IRQ_%d unavailable", l.Index)
	case l.Reserved:
		return fmt.Sprintf("MPU_IRQ_%d offset 0x%03x reserved", l.Index, l.Offset)
	default:
		return fmt.Sprintf("MPU_IRQ_%d offset 0x%03x", l.Index, l.Offset)
	}
}

// LineTable maps line indices to mux field offsets. It is immutable once
// built and safe for concurrent readers.
type LineTable struct {
	lines    []Line
	byOffset map[int]int
	usable   []int
	span     int
}

// BuildTable lays out the mux fields for a family. Lines that own a field
// get consecutive 16-bit fields in index order; only usable ones keep an
// offset in the table.
func BuildTable(f Family) *LineTable {
	t := &LineTable{
		lines:    make([]Line, f.MaxLine+1),
		byOffset: make(map[int]int),
	}
	offset := 0
	for i := range t.lines {
		line := Line{Index: i, Offset: Unavailable}
		if !f.HasField(i) {
			t.lines[i] = line
			continue
		}
		if f.Usable(i) {
			line.Offset = offset
			line.Reserved = i == f.ConsoleLine
			t.byOffset[offset] = i
			t.usable = append(t.usable, i)
		}
		t.lines[i] = line
		offset += 2
	}
	t.span = offset
	return t
}

// Len returns the number of lines, usable or not.
func (t *LineTable) Len() int {
	return len(t.lines)
}

// Line returns line i.
func (t *LineTable) Line(i int) (Line, bool) {
	if i < 0 || i >= len(t.lines) {
		return Line{}, false
	}
	return t.lines[i], true
}

// LineByOffset returns the line whose mux field sits at off.
func (t *LineTable) LineByOffset(off int) (Line, bool) {
	i, ok := t.byOffset[off]
	if !ok {
		return Line{}, false
	}
	return t.lines[i], true
}

// Usable returns the usable line indices in ascending order.
func (t *LineTable) Usable() []int {
	return append([]int(nil), t.usable...)
}

// FirstUsable returns the lowest usable index, or -1.
func (t *LineTable) FirstUsable() int {
	if len(t.usable) == 0 {
		return -1
	}
	return t.usable[0]
}

// LastUsable returns the highest usable index, or -1.
func (t *LineTable) LastUsable() int {
	if len(t.usable) == 0 {
		return -1
	}
	return t.usable[len(t.usable)-1]
}

// NextUsable returns the first usable index >= from.
func (t *LineTable) NextUsable(from int) (int, bool) {
	if from < 0 {
		from = 0
	}
	for i := from; i < len(t.lines); i++ {
		if t.lines[i].Usable() {
			return i, true
		}
	}
	return 0, false
}

// Span returns the number of bytes the mux fields occupy.
func (t *LineTable) Span() int {
	return t.span
}

// Lines returns a copy of every line.
func (t *LineTable) Lines() []Line {
	return append([]Line(nil), t.lines...)
}

// Equal reports whether two tables describe the same layout.
func (t *LineTable) Equal(other *LineTable) bool {
	if t == nil || other == nil {
		return t == other
	}
	if len(t.lines) != len(other.lines) || t.span != other.span {
		return false
	}
	for i := range t.lines {
		if t.lines[i] != other.lines[i] {
			return false
		}
	}
	return true
}
