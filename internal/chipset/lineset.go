package chipset

import (
	"fmt"
	"sync"

	"gvisor.dev/gvisor/pkg/bitmap"
)

// LineSet tracks which interrupt lines are owned and by whom.
// A line once claimed stays claimed; routing here is static.
type LineSet struct {
	mu sync.Mutex

	size    uint32
	claimed bitmap.Bitmap
	owners  map[uint32]string
}

// NewLineSet builds a LineSet covering lines [0, size).
func NewLineSet(size uint32) *LineSet {
	return &LineSet{
		size:    size,
		claimed: bitmap.New(size),
		owners:  make(map[uint32]string),
	}
}

// Size returns the number of lines tracked.
func (l *LineSet) Size() uint32 {
	return l.size
}

// Claim marks a line as owned. Claiming a line twice is an error.
func (l *LineSet) Claim(line uint32, owner string) error {
	if line >= l.size {
		return fmt.Errorf("lineset: line %d out of range (size %d)", line, l.size)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.owners[line]; ok {
		return fmt.Errorf("lineset: line %d already claimed by %q", line, prev)
	}
	l.claimed.Add(line)
	l.owners[line] = owner
	return nil
}

// Claimed reports whether the line has an owner.
func (l *LineSet) Claimed(line uint32) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.owners[line]
	return ok
}

// Owner returns the owner of a claimed line.
func (l *LineSet) Owner(line uint32) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	owner, ok := l.owners[line]
	return owner, ok
}

// Release drops a claim. It is only used to unwind a failed setup.
func (l *LineSet) Release(line uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.owners[line]; !ok {
		return
	}
	l.claimed.Remove(line)
	delete(l.owners, line)
}

// Lines returns the claimed lines in ascending order.
func (l *LineSet) Lines() []uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.claimed.ToSlice()
}

// Count returns the number of claimed lines.
func (l *LineSet) Count() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.claimed.GetNumOnes()
}
