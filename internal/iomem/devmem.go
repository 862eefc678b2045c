//go:build linux

package iomem

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/hostarch"
)

const DefaultDevMemPath = "/dev/mem"

// DevMem maps physical register space through a memory device node.
type DevMem struct {
	Path string
}

// Map implements Mapper. The mapping is widened to whole pages; the returned
// bank still addresses [base, base+size).
func (d DevMem) Map(base, size uint64) (Bank, error) {
	path := d.Path
	if path == "" {
		path = DefaultDevMemPath
	}
	if size == 0 || base+size < base {
		return nil, fmt.Errorf("iomem: cannot map 0x%x+0x%x", base, size)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("iomem: open %s: %w", path, err)
	}
	defer unix.Close(fd)

	start := hostarch.Addr(base).RoundDown()
	end, ok := hostarch.Addr(base + size).RoundUp()
	if !ok {
		return nil, fmt.Errorf("iomem: range 0x%x+0x%x overflows", base, size)
	}

	data, err := unix.Mmap(fd, int64(start), int(end-start), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("iomem: mmap %s [0x%x-0x%x): %w", path, uint64(start), uint64(end), os.NewSyscallError("mmap", err))
	}

	return &devMemBank{
		data: data,
		skew: uint64(hostarch.Addr(base).PageOffset()),
		base: base,
		size: size,
	}, nil
}

type devMemBank struct {
	data []byte
	skew uint64
	base uint64
	size uint64
}

func (b *devMemBank) Base() uint64 { return b.base }
func (b *devMemBank) Size() uint64 { return b.size }

func (b *devMemBank) Read(off uint64, width int) (uint64, error) {
	if b.data == nil {
		return 0, ErrClosed
	}
	if err := checkAccess(b.size, off, width); err != nil {
		return 0, err
	}
	at := b.skew + off
	return load(b.data[at:at+uint64(width)], width), nil
}

func (b *devMemBank) Write(off uint64, width int, value uint64) error {
	if b.data == nil {
		return ErrClosed
	}
	if err := checkAccess(b.size, off, width); err != nil {
		return err
	}
	at := b.skew + off
	store(b.data[at:at+uint64(width)], width, value)
	return nil
}

func (b *devMemBank) Close() error {
	if b.data == nil {
		return nil
	}
	err := unix.Munmap(b.data)
	b.data = nil
	return err
}

var _ Mapper = DevMem{}
