// Package mmio provides rvuart.Registers implementations over real memory:
// a fixed physical address on the target (TinyGo) and an mmap'd register
// window on Linux hosts, such as a UIO map or /dev/mem.
package mmio
