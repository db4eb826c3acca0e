//go:build linux && !tinygo

package mmio

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Map maps size bytes of path starting at byte offset base. For /dev/mem base
// is the physical address of the peripheral; for a UIO device it is the map
// offset (N * page size for map N). base need not be page aligned.
func Map(path string, base int64, size int) (*Mapping, error) {
	if size <= 0 || base < 0 {
		return nil, fmt.Errorf("mmio: bad window base 0x%x size %d", base, size)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0660)
	if err != nil {
		return nil, err
	}
	// The mapping stays valid after the descriptor is closed.
	defer f.Close()

	page := int64(os.Getpagesize())
	skew := base % page
	mem, err := unix.Mmap(int(f.Fd()), base-skew, int(skew)+size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Mapping{
		mem:   mem,
		regs:  mem[skew : skew+int64(size)],
		unmap: unix.Munmap,
	}, nil
}
