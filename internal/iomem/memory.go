package iomem

import (
	"fmt"
	"sync"

	"gvisor.dev/gvisor/pkg/hostarch"
)

// Memory simulates physical register space. Storage is kept per page frame
// so overlapping mappings of the same range alias each other, as they would
// on hardware.
type Memory struct {
	mu     sync.Mutex
	frames map[uint64][]byte
}

func NewMemory() *Memory {
	return &Memory{frames: make(map[uint64][]byte)}
}

// Map implements Mapper.
func (m *Memory) Map(base, size uint64) (Bank, error) {
	if size == 0 || base+size < base {
		return nil, fmt.Errorf("iomem: cannot map 0x%x+0x%x", base, size)
	}
	return &memoryBank{mem: m, base: base, size: size}, nil
}

// Peek reads directly from simulated memory without a mapping.
func (m *Memory) Peek(addr uint64, width int) (uint64, error) {
	if err := checkAccess(^uint64(0), addr, width); err != nil {
		return 0, err
	}
	var buf [4]byte
	m.copyOut(addr, buf[:width])
	return load(buf[:width], width), nil
}

// Poke writes directly into simulated memory without a mapping.
func (m *Memory) Poke(addr uint64, width int, value uint64) error {
	if err := checkAccess(^uint64(0), addr, width); err != nil {
		return err
	}
	var buf [4]byte
	store(buf[:width], width, value)
	m.copyIn(addr, buf[:width])
	return nil
}

func (m *Memory) frame(addr uint64) []byte {
	pfn := uint64(hostarch.Addr(addr).RoundDown())
	f, ok := m.frames[pfn]
	if !ok {
		f = make([]byte, hostarch.PageSize)
		m.frames[pfn] = f
	}
	return f
}

func (m *Memory) copyOut(addr uint64, dst []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range dst {
		a := addr + uint64(i)
		dst[i] = m.frame(a)[hostarch.Addr(a).PageOffset()]
	}
}

func (m *Memory) copyIn(addr uint64, src []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, b := range src {
		a := addr + uint64(i)
		m.frame(a)[hostarch.Addr(a).PageOffset()] = b
	}
}

type memoryBank struct {
	mem  *Memory
	base uint64
	size uint64
}

func (b *memoryBank) Base() uint64 { return b.base }
func (b *memoryBank) Size() uint64 { return b.size }

func (b *memoryBank) Read(off uint64, width int) (uint64, error) {
	if err := checkAccess(b.size, off, width); err != nil {
		return 0, err
	}
	var buf [4]byte
	b.mem.copyOut(b.base+off, buf[:width])
	return load(buf[:width], width), nil
}

func (b *memoryBank) Write(off uint64, width int, value uint64) error {
	if err := checkAccess(b.size, off, width); err != nil {
		return err
	}
	var buf [4]byte
	store(buf[:width], width, value)
	b.mem.copyIn(b.base+off, buf[:width])
	return nil
}

func (b *memoryBank) Close() error { return nil }

var _ Mapper = (*Memory)(nil)
