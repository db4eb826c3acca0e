//go:build !tinygo

package mmio

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Mapping is a register window backed by memory shared with a device. All
// accesses are aligned 32-bit atomic loads and stores, so the compiler
// neither caches nor merges them.
type Mapping struct {
	mem   []byte // whole mapping, page aligned
	regs  []byte // the requested window inside mem
	unmap func([]byte) error
}

// FromBytes wraps b as a register window. Nothing is unmapped on Close.
func FromBytes(b []byte) *Mapping {
	return &Mapping{mem: b, regs: b}
}

// Size returns the window length in bytes.
func (m *Mapping) Size() int { return len(m.regs) }

func (m *Mapping) word(off uint32) *uint32 {
	if off&3 != 0 || int(off)+4 > len(m.regs) {
		panic(fmt.Sprintf("mmio: access at 0x%x outside %d-byte window", off, len(m.regs)))
	}
	return (*uint32)(unsafe.Pointer(&m.regs[off]))
}

// Read loads the register at off.
func (m *Mapping) Read(off uint32) uint32 {
	return atomic.LoadUint32(m.word(off))
}

// Write stores v to the register at off.
func (m *Mapping) Write(off, v uint32) {
	atomic.StoreUint32(m.word(off), v)
}

// Close releases the mapping. The window must not be used afterwards.
func (m *Mapping) Close() error {
	if m.unmap == nil || m.mem == nil {
		return nil
	}
	err := m.unmap(m.mem)
	m.mem, m.regs = nil, nil
	return err
}
