//go:build tinygo

package mmio

import (
	"runtime/volatile"
	"unsafe"
)

// Window is a block of 32-bit registers at a physical address.
type Window uintptr

// At returns the register window starting at base.
func At(base uintptr) Window { return Window(base) }

func (w Window) reg(off uint32) *volatile.Register32 {
	return (*volatile.Register32)(unsafe.Pointer(uintptr(w) + uintptr(off)))
}

// Read performs a volatile 32-bit load at base+off.
func (w Window) Read(off uint32) uint32 { return w.reg(off).Get() }

// Write performs a volatile 32-bit store at base+off.
func (w Window) Write(off, v uint32) { w.reg(off).Set(v) }
