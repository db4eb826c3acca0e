// rvuart/diag.go

package rvuart

import (
	"strings"

	"go.uber.org/atomic"
)

// Errors is a snapshot of the sticky line and buffer error flags.
type Errors struct {
	Parity     bool // parity mismatch on a received character
	Frame      bool // missing stop bit on a received character
	RxOverflow bool // a received byte was dropped (RX FIFO or software ring full)
	TxOverflow bool // a byte was written to a full TX FIFO and lost
}

// Any reports whether at least one flag is set.
func (e Errors) Any() bool {
	return e.Parity || e.Frame || e.RxOverflow || e.TxOverflow
}

func (e Errors) String() string {
	var parts []string
	if e.Parity {
		parts = append(parts, "parity")
	}
	if e.Frame {
		parts = append(parts, "frame")
	}
	if e.RxOverflow {
		parts = append(parts, "rx-overflow")
	}
	if e.TxOverflow {
		parts = append(parts, "tx-overflow")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

func errorsFromBits(bits uint32) Errors {
	return Errors{
		Parity:     bits&ErrBitParity != 0,
		Frame:      bits&ErrBitFrame != 0,
		RxOverflow: bits&ErrBitRxOverflow != 0,
		TxOverflow: bits&ErrBitTxOverflow != 0,
	}
}

// errorLatch holds one word per flag. Flags are set from the interrupt
// context and cleared only by the swap in GetErrors.
type errorLatch struct {
	parity     atomic.Bool
	frame      atomic.Bool
	rxOverflow atomic.Bool
	txOverflow atomic.Bool
}

func (l *errorLatch) set(bits uint32) {
	if bits&ErrBitParity != 0 {
		l.parity.Store(true)
	}
	if bits&ErrBitFrame != 0 {
		l.frame.Store(true)
	}
	if bits&ErrBitRxOverflow != 0 {
		l.rxOverflow.Store(true)
	}
	if bits&ErrBitTxOverflow != 0 {
		l.txOverflow.Store(true)
	}
}

func (l *errorLatch) take() Errors {
	return Errors{
		Parity:     l.parity.Swap(false),
		Frame:      l.frame.Swap(false),
		RxOverflow: l.rxOverflow.Swap(false),
		TxOverflow: l.txOverflow.Swap(false),
	}
}

func (l *errorLatch) reset() { _ = l.take() }

// GetErrors returns the pending error flags and clears them, so each error is
// reported once, to the first caller after it happened. The boolean is false
// when nothing was pending.
//
// While IRQError is enabled the interrupt handler owns the ERR register and
// this call only reads the software latches. Otherwise it also collects and
// acknowledges the ERR register itself.
func (u *UART) GetErrors() (Errors, bool) {
	var hw uint32
	if IRQ(u.regs.Read(RegIRQEn))&IRQError == 0 {
		hw = u.regs.Read(RegErr) & errBitsAll
		if hw != 0 {
			u.regs.Write(RegErr, hw)
		}
	}
	e := u.errs.take()
	h := errorsFromBits(hw)
	e.Parity = e.Parity || h.Parity
	e.Frame = e.Frame || h.Frame
	e.RxOverflow = e.RxOverflow || h.RxOverflow
	e.TxOverflow = e.TxOverflow || h.TxOverflow
	return e, e.Any()
}

// Stats holds counters since Open or the last ResetStats.
type Stats struct {
	ISRCount   uint32 // HandleInterrupt entries with at least one enabled cause
	RxBytes    uint32 // bytes drained from the RX FIFO by the handler
	RxDropped  uint32 // bytes a RingSink could not store
	TxRefills  uint32 // TX threshold causes serviced by a callback or the TX ring
	TxBytes    uint32 // bytes moved from the TX ring to the TX FIFO
	ErrorIRQs  uint32 // error causes serviced
	Timeouts   uint32 // blocking calls that hit their deadline
	Spurious   uint32 // HandleInterrupt entries with nothing enabled pending
	RingMaxLen uint32 // high-water mark observed by RingSink
}

type counters struct {
	isr        atomic.Uint32
	rxBytes    atomic.Uint32
	rxDropped  atomic.Uint32
	txRefills  atomic.Uint32
	txBytes    atomic.Uint32
	errorIRQs  atomic.Uint32
	timeouts   atomic.Uint32
	spurious   atomic.Uint32
	ringMaxLen atomic.Uint32
}

// Stats returns a copy of the counters.
func (u *UART) Stats() Stats {
	c := &u.stats
	return Stats{
		ISRCount:   c.isr.Load(),
		RxBytes:    c.rxBytes.Load(),
		RxDropped:  c.rxDropped.Load(),
		TxRefills:  c.txRefills.Load(),
		TxBytes:    c.txBytes.Load(),
		ErrorIRQs:  c.errorIRQs.Load(),
		Timeouts:   c.timeouts.Load(),
		Spurious:   c.spurious.Load(),
		RingMaxLen: c.ringMaxLen.Load(),
	}
}

// ResetStats zeroes the counters. Counts from an interrupt that runs
// concurrently may be lost; the counters are diagnostics only.
func (u *UART) ResetStats() {
	c := &u.stats
	for _, v := range []*atomic.Uint32{
		&c.isr, &c.rxBytes, &c.rxDropped, &c.txRefills, &c.txBytes,
		&c.errorIRQs, &c.timeouts, &c.spurious, &c.ringMaxLen,
	} {
		v.Store(0)
	}
}

func (c *counters) noteRingLen(n int) {
	for {
		max := c.ringMaxLen.Load()
		if uint32(n) <= max {
			return
		}
		if c.ringMaxLen.CompareAndSwap(max, uint32(n)) {
			return
		}
	}
}
