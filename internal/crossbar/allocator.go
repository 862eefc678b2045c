package crossbar

import (
	"fmt"
	"log/slog"

	"github.com/tinyrange/crossbar/internal/iomem"
	"gvisor.dev/gvisor/pkg/bitmap"
)

// muxMask is the width of a mux field.
const muxMask = 0xffff

// Allocation is the result of binding a crossbar source to a line.
type Allocation struct {
	Line   int
	Offset int
	// Clamped is set when no unused line was left and the source now
	// shares the last usable line.
	Clamped bool
}

// Allocator hands out crossbar lines in ascending order and programs the
// mux field of each line it hands out. Lines are never freed.
//
// Allocator is not safe for concurrent use; Controller serializes it.
type Allocator struct {
	table    *LineTable
	bank     iomem.Bank
	muxStart uint64
	stats    *Stats

	cursor    int
	allocated bitmap.Bitmap
}

// NewAllocator creates an allocator over table that programs mux fields in
// bank starting at muxStart. stats may be nil.
func NewAllocator(table *LineTable, bank iomem.Bank, muxStart uint64, stats *Stats) *Allocator {
	if stats == nil {
		stats = &Stats{}
	}
	return &Allocator{
		table:     table,
		bank:      bank,
		muxStart:  muxStart,
		stats:     stats,
		cursor:    table.FirstUsable(),
		allocated: bitmap.New(uint32(table.Len())),
	}
}

// Allocate binds crossbar source id to the next unused line.
func (a *Allocator) Allocate(id uint32) (Allocation, error) {
	last := a.table.LastUsable()
	if last < 0 {
		return Allocation{}, fmt.Errorf("crossbar: line table has no usable lines")
	}

	index, ok := a.table.NextUsable(a.cursor)
	clamped := !ok
	if clamped {
		index = last
	}
	line, _ := a.table.Line(index)

	if err := a.bank.Write(a.muxStart+uint64(line.Offset), 2, uint64(id&muxMask)); err != nil {
		return Allocation{}, fmt.Errorf("crossbar: program MPU_IRQ_%d: %w", index, err)
	}

	a.stats.Allocations.Add(1)
	if clamped {
		a.stats.Exhaustions.Add(1)
		slog.Warn("crossbar: lines exhausted, sharing last line",
			"err", ErrAllocationExhausted, "crossbar_id", id, "line", index, "exhaustions", a.stats.Exhaustions.Load())
	} else {
		a.cursor = index + 1
		a.allocated.Add(uint32(index))
		slog.Debug("crossbar: line allocated", "crossbar_id", id, "line", index, "offset", line.Offset)
	}

	return Allocation{Line: index, Offset: line.Offset, Clamped: clamped}, nil
}

// Cursor returns the next index the allocator will probe.
func (a *Allocator) Cursor() int {
	return a.cursor
}

// Allocated returns the lines handed out so far, ascending.
func (a *Allocator) Allocated() []uint32 {
	return a.allocated.ToSlice()
}

// Remaining returns how many unused lines are left.
func (a *Allocator) Remaining() int {
	n := 0
	for i := a.cursor; i < a.table.Len(); i++ {
		if l, _ := a.table.Line(i); l.Usable() {
			n++
		}
	}
	return n
}
