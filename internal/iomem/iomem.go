// Package iomem provides access to banks of memory-mapped control registers.
package iomem

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrBadWidth    = errors.New("iomem: unsupported access width")
	ErrOutOfBounds = errors.New("iomem: access out of bounds")
	ErrClosed      = errors.New("iomem: bank closed")
)

// Bank is a mapped window of physical register space.
type Bank interface {
	Base() uint64
	Size() uint64

	// Read returns width bytes at off as a little-endian value.
	Read(off uint64, width int) (uint64, error)
	// Write stores the low width bytes of value at off.
	Write(off uint64, width int, value uint64) error

	Close() error
}

// Mapper maps physical ranges into the caller's address space.
type Mapper interface {
	Map(base, size uint64) (Bank, error)
}

func checkAccess(size, off uint64, width int) error {
	switch width {
	case 1, 2, 4:
	default:
		return fmt.Errorf("%w: %d", ErrBadWidth, width)
	}
	if off+uint64(width) > size || off+uint64(width) < off {
		return fmt.Errorf("%w: offset 0x%x width %d size 0x%x", ErrOutOfBounds, off, width, size)
	}
	return nil
}

func load(buf []byte, width int) uint64 {
	switch width {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf))
	default:
		return uint64(binary.LittleEndian.Uint32(buf))
	}
}

func store(buf []byte, width int, value uint64) {
	switch width {
	case 1:
		buf[0] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(value))
	default:
		binary.LittleEndian.PutUint32(buf, uint32(value))
	}
}

// Mask returns the value mask for an access width.
func Mask(width int) uint64 {
	return (uint64(1) << (8 * uint(width))) - 1
}
