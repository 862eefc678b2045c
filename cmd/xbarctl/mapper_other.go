//go:build !linux

package main

import (
	"fmt"
	"runtime"

	"github.com/tinyrange/crossbar/internal/iomem"
)

func hostMapper(path string) (iomem.Mapper, error) {
	return nil, fmt.Errorf("-devmem %s: physical memory access is not supported on %s", path, runtime.GOOS)
}
