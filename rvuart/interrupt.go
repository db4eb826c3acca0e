// rvuart/interrupt.go

package rvuart

// RxCallback receives one byte drained from the RX FIFO. It runs in interrupt
// context and must not block.
type RxCallback func(b byte)

// TxCallback is invoked when the TX level has fallen to the TX threshold, so
// the FIFO can be refilled (typically with TryPutByte until ErrWouldBlock).
// It runs in interrupt context.
type TxCallback func(u *UART)

// ErrorCallback receives the line errors latched by one interrupt. It runs in
// interrupt context.
type ErrorCallback func(e Errors)

// Callbacks is the set of optional handlers invoked by HandleInterrupt. A nil
// field means the corresponding cause is acknowledged without a call.
type Callbacks struct {
	RX    RxCallback
	TX    TxCallback
	Error ErrorCallback
}

// SetCallbacks replaces the registered callbacks. It may be called with
// interrupts enabled; an interrupt already running keeps the previous set.
func (u *UART) SetCallbacks(cb Callbacks) {
	u.callbacks.Store(&cb)
}

// EnableInterrupts unmasks exactly the causes in mask (the previous mask is
// replaced). Bits outside IRQAll are rejected with ErrInvalidConfig.
func (u *UART) EnableInterrupts(mask IRQ) error {
	if mask&^IRQAll != 0 {
		return &ConfigError{Field: "irq mask", Value: uint32(mask)}
	}
	u.regs.Write(RegIRQEn, uint32(mask))
	return nil
}

// DisableInterrupts masks every cause. Pending causes stay latched in
// IRQ_PEND until the next interrupt that has them enabled.
func (u *UART) DisableInterrupts() {
	u.regs.Write(RegIRQEn, 0)
}

// Interrupts returns the currently unmasked causes.
func (u *UART) Interrupts() IRQ {
	return IRQ(u.regs.Read(RegIRQEn)) & IRQAll
}

// HandleInterrupt services the UART interrupt line. The platform's interrupt
// entry calls it; the application never does. Only causes that are both
// pending and enabled are serviced, and each is acknowledged before it is
// serviced so that an event arriving during service raises a fresh interrupt:
//
//	RX (threshold or full): drain the RX FIFO until empty, passing each byte to
//	  the RX callback. Without an RX callback the bytes stay in the FIFO for
//	  the polling API.
//	TX threshold: invoke the TX callback, or refill from the ring set with
//	  SetTxRing.
//	Error: collect and clear ERR, latch the flags for GetErrors, invoke the
//	  error callback with the collected flags when any are set.
func (u *UART) HandleInterrupt() {
	active := IRQ(u.regs.Read(RegIRQPend)) & IRQ(u.regs.Read(RegIRQEn)) & IRQAll
	if active == 0 {
		u.stats.spurious.Inc()
		return
	}
	u.stats.isr.Inc()
	u.regs.Write(RegIRQPend, uint32(active))

	var cb Callbacks
	if p := u.callbacks.Load(); p != nil {
		cb = *p
	}

	// RX path (threshold or full).
	if active&irqRx != 0 && cb.RX != nil {
		for !u.Status().RxEmpty {
			b := byte(u.regs.Read(RegData) & dataMask)
			u.stats.rxBytes.Inc()
			cb.RX(b)
		}
	}

	// TX path: the registered callback, else the attached TX ring.
	if active&IRQTxThreshold != 0 {
		if cb.TX != nil {
			u.stats.txRefills.Inc()
			cb.TX(u)
		} else if rb := u.txRing.Load(); rb != nil {
			u.stats.txRefills.Inc()
			u.fillFrom(rb)
		}
	}

	// Error path.
	if active&IRQError != 0 {
		u.stats.errorIRQs.Inc()
		bits := u.regs.Read(RegErr) & errBitsAll
		if bits != 0 {
			u.regs.Write(RegErr, bits)
			u.errs.set(bits)
			if cb.Error != nil {
				cb.Error(errorsFromBits(bits))
			}
		}
	}
}

// RingSink returns the canonical RX callback: each byte is stored in rb. When
// rb is full the byte is dropped and RxOverflow is latched. The interrupt
// handler is the only producer of rb; the main context is its only consumer.
func (u *UART) RingSink(rb *RingBuffer) RxCallback {
	return func(b byte) {
		if !rb.Put(b) {
			u.stats.rxDropped.Inc()
			u.errs.set(ErrBitRxOverflow)
			return
		}
		u.stats.noteRingLen(rb.Len())
	}
}

// RingSource returns the TX callback mirroring RingSink: each call moves bytes
// from rb to the TX FIFO until the FIFO is full, and masks IRQTxThreshold once
// rb is empty. The main context is the only producer of rb; after queueing it
// calls StartTx, since no threshold crossing comes while the cause is masked.
func (u *UART) RingSource(rb *RingBuffer) TxCallback {
	return func(*UART) { u.fillFrom(rb) }
}

// StartTx seeds the TX FIFO from rb with IRQTxThreshold masked, then unmasks
// it if bytes remain, so that the handler continues the transfer as the FIFO
// drains. The handler never consumes rb while the cause is masked, so the two
// never interleave.
func (u *UART) StartTx(rb *RingBuffer) {
	u.setTxIRQ(false)
	u.fillFrom(rb)
	if rb.Len() > 0 {
		u.setTxIRQ(true)
	}
}

// SetTxRing switches Write, WriteString, WriteByte and Flush to
// interrupt-driven transmission through rb: writers queue into rb and the
// handler refills the TX FIFO from it each time the TX level falls to the TX
// threshold. IRQTxThreshold is unmasked while rb holds bytes and masked when
// it runs empty. The main context is the only producer of rb and the handler
// its only consumer. A nil rb restores direct polled writes and the
// IRQTxThreshold mask bit as it was when the ring was attached. PutByte and
// TryPutByte always bypass the ring.
func (u *UART) SetTxRing(rb *RingBuffer) {
	old := u.txRing.Swap(rb)
	switch {
	case old == nil && rb != nil:
		u.txIRQSaved.Store(u.Interrupts()&IRQTxThreshold != 0)
	case old != nil && rb == nil:
		u.setTxIRQ(u.txIRQSaved.Load())
	}
}

// needsStart reports whether queued ring bytes would otherwise wait for a
// threshold crossing that is not coming.
func (u *UART) needsStart(rb *RingBuffer, s FIFOStatus) bool {
	if rb.Len() == 0 {
		return false
	}
	return s.TxThresholdReached || u.Interrupts()&IRQTxThreshold == 0
}

// setTxIRQ sets or clears IRQTxThreshold in IRQ_EN, leaving the other causes.
func (u *UART) setTxIRQ(on bool) {
	en := IRQ(u.regs.Read(RegIRQEn))
	if on {
		en |= IRQTxThreshold
	} else {
		en &^= IRQTxThreshold
	}
	u.regs.Write(RegIRQEn, uint32(en))
}

func (u *UART) fillFrom(rb *RingBuffer) {
	for !u.Status().TxFull {
		b, ok := rb.Get()
		if !ok {
			u.setTxIRQ(false)
			return
		}
		u.regs.Write(RegData, uint32(b))
		u.stats.txBytes.Inc()
	}
}
