// rvuart/ringbuffer.go

package rvuart

import "go.uber.org/atomic"

// RingBuffer is a fixed-capacity byte queue shared by exactly one producer and
// one consumer without a lock. The producer only stores the write index and
// the consumer only stores the read index; each side loads the other's index
// solely for the full/empty comparison.
//
// One slot is kept free so that full ((write+1)&mask == read) and empty
// (write == read) are distinguishable with two indices: a ring of Cap() n
// holds at most n-1 bytes.
type RingBuffer struct {
	buf   []byte
	mask  uint32
	write atomic.Uint32 // producer-owned
	read  atomic.Uint32 // consumer-owned
}

// NewRingBuffer returns an empty ring with size slots. size must be a power of
// two and at least 2.
func NewRingBuffer(size int) (*RingBuffer, error) {
	if size < 2 || size&(size-1) != 0 || size > 1<<30 {
		return nil, &ConfigError{Field: "ring size", Value: uint32(size)}
	}
	return &RingBuffer{buf: make([]byte, size), mask: uint32(size - 1)}, nil
}

// Cap returns the number of slots, one more than the usable capacity.
func (rb *RingBuffer) Cap() int { return len(rb.buf) }

// Len returns how many bytes are queued. The value is exact only when called
// from one of the two sides with the other side quiescent; otherwise it is a
// snapshot.
func (rb *RingBuffer) Len() int {
	return int((rb.write.Load() - rb.read.Load()) & rb.mask)
}

// Free returns how many more bytes Put would accept right now.
func (rb *RingBuffer) Free() int { return len(rb.buf) - 1 - rb.Len() }

// Put stores a byte. Producer side only. If the buffer is full it returns
// false and the byte is not stored.
func (rb *RingBuffer) Put(val byte) bool {
	w := rb.write.Load()
	next := (w + 1) & rb.mask
	if next == rb.read.Load() { // full
		return false
	}
	rb.buf[w] = val      // 1) write data
	rb.write.Store(next) // 2) publish
	return true
}

// Get returns the oldest byte. Consumer side only. If the buffer is empty it
// returns (0, false).
func (rb *RingBuffer) Get() (byte, bool) {
	r := rb.read.Load()
	if r == rb.write.Load() { // empty
		return 0, false
	}
	v := rb.buf[r]                   // 1) read current element
	rb.read.Store((r + 1) & rb.mask) // 2) publish consumption
	return v, true
}

// TryRead copies up to len(p) queued bytes into p. Consumer side only. It
// never blocks; 0 means "no data now".
func (rb *RingBuffer) TryRead(p []byte) int {
	n := 0
	for n < len(p) {
		b, ok := rb.Get()
		if !ok {
			break
		}
		p[n] = b
		n++
	}
	return n
}

// TryWrite queues as much of p as fits. Producer side only.
func (rb *RingBuffer) TryWrite(p []byte) int {
	n := 0
	for n < len(p) && rb.Put(p[n]) {
		n++
	}
	return n
}

// Reset drops everything queued. Consumer side only: it advances the read
// index to the current write index.
func (rb *RingBuffer) Reset() {
	rb.read.Store(rb.write.Load())
}
