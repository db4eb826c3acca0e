// rvuart/uartsim/uartsim.go

// Package uartsim is a register-level model of the PicoRV32 UART for host
// tests and self-tests. It implements rvuart.Registers.
//
// Time in the model is counted in bus cycles: every register access is one
// cycle, and the transmitter moves one byte every CyclesPerByte cycles (FIFO
// to shifter, shifter to wire). Interrupts are delivered synchronously at the
// end of the register access that made an enabled cause pending, on the
// goroutine performing that access, exactly as an interrupt preempts the
// running code between two instructions. Deliveries never nest.
package uartsim

import (
	"sync"

	"github.com/jangala-dev/tinygo-rvuart/rvuart"
)

const (
	defaultCyclesPerByte = 16
	maxChainedIRQs       = 64
)

// Device is a simulated UART register block.
type Device struct {
	mu sync.Mutex

	ctrl, baud, thresh uint32
	irqEn, irqPend     uint32
	errBits            uint32

	tx, rx   []byte
	shifter  int // -1: idle, else the byte on the line
	wire     []byte
	pace     int // cycles per byte, 0: line stalled
	phase    int
	cycles   uint64
	ignored  int
	handler  func()
	inISR    bool
	delivers int
}

// Option configures a Device.
type Option func(*Device)

// WithCyclesPerByte sets the transmitter pace. Zero stalls the line (as with
// flow control deasserted); bytes then only move on Shift.
func WithCyclesPerByte(n int) Option {
	return func(d *Device) { d.pace = n }
}

// New returns a device in its reset state: disabled, FIFOs empty.
func New(opts ...Option) *Device {
	d := &Device{shifter: -1, pace: defaultCyclesPerByte}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Attach sets the function called when an enabled cause is pending, usually
// (*rvuart.UART).HandleInterrupt.
func (d *Device) Attach(h func()) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

// Read implements rvuart.Registers.
func (d *Device) Read(off uint32) uint32 {
	d.mu.Lock()
	d.cycleLocked()
	var v uint32
	switch off {
	case rvuart.RegData:
		if len(d.rx) > 0 {
			v = uint32(d.rx[0])
			d.rx = d.rx[1:]
		}
	case rvuart.RegStatus:
		v = uint32(len(d.tx))<<rvuart.StatusTxLevelPos | uint32(len(d.rx))<<rvuart.StatusRxLevelPos
		if len(d.tx) == 0 && d.shifter < 0 {
			v |= rvuart.StatusTxIdle
		}
	case rvuart.RegCtrl:
		v = d.ctrl
	case rvuart.RegBaud:
		v = d.baud
	case rvuart.RegThresh:
		v = d.thresh
	case rvuart.RegIRQEn:
		v = d.irqEn
	case rvuart.RegIRQPend:
		v = d.irqPend
	case rvuart.RegErr:
		v = d.errBits
	}
	d.mu.Unlock()
	d.deliver()
	return v
}

// Write implements rvuart.Registers.
func (d *Device) Write(off, v uint32) {
	d.mu.Lock()
	d.cycleLocked()
	switch off {
	case rvuart.RegData:
		switch {
		case !d.txEnabled():
			d.ignored++
		case len(d.tx) >= rvuart.FIFODepth:
			d.raiseErrLocked(rvuart.ErrBitTxOverflow)
		default:
			d.tx = append(d.tx, byte(v))
		}
	case rvuart.RegCtrl:
		d.ctrl = v
	case rvuart.RegBaud:
		d.baud = v
	case rvuart.RegThresh:
		d.thresh = v
	case rvuart.RegIRQEn:
		d.irqEn = v & uint32(rvuart.IRQAll)
	case rvuart.RegIRQPend:
		d.irqPend &^= v
	case rvuart.RegErr:
		d.errBits &^= v
	}
	d.mu.Unlock()
	d.deliver()
}

// Inject receives bytes from the line, one at a time, delivering any
// interrupt after each byte. Bytes arriving while the receiver is disabled are
// ignored; bytes arriving at a full RX FIFO are lost and latch RX overflow.
func (d *Device) Inject(p ...byte) {
	for _, b := range p {
		d.mu.Lock()
		d.receiveLocked(b)
		d.mu.Unlock()
		d.deliver()
	}
}

// InjectError latches line error bits (rvuart.ErrBit*) as the receiver would.
func (d *Device) InjectError(bits uint32) {
	d.mu.Lock()
	d.raiseErrLocked(bits)
	d.mu.Unlock()
	d.deliver()
}

// Tick lets n bus cycles pass without a register access.
func (d *Device) Tick(n int) {
	for i := 0; i < n; i++ {
		d.mu.Lock()
		d.cycleLocked()
		d.mu.Unlock()
		d.deliver()
	}
}

// Shift moves up to n bytes onto the wire regardless of pace.
func (d *Device) Shift(n int) {
	d.mu.Lock()
	for i := 0; i < n; i++ {
		d.stepTxLocked()
	}
	d.mu.Unlock()
	d.deliver()
}

// Wire returns a copy of every byte transmitted so far.
func (d *Device) Wire() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.wire...)
}

// Loopback moves every transmitted byte back into the receiver, as if TX were
// wired to RX. It returns the number of bytes looped.
func (d *Device) Loopback() int {
	d.mu.Lock()
	out := d.wire
	d.wire = nil
	d.mu.Unlock()
	d.Inject(out...)
	return len(out)
}

// State is a snapshot of the model, for comparing before and after a call.
type State struct {
	Ctrl, Baud, Thresh uint32
	IRQEn, IRQPend     uint32
	Err                uint32
	TX, RX, Wire       string
}

// Snapshot returns the current state without advancing time.
func (d *Device) Snapshot() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return State{
		Ctrl: d.ctrl, Baud: d.baud, Thresh: d.thresh,
		IRQEn: d.irqEn, IRQPend: d.irqPend, Err: d.errBits,
		TX: string(d.tx), RX: string(d.rx), Wire: string(d.wire),
	}
}

// Deliveries returns how many times the attached handler has been called.
func (d *Device) Deliveries() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.delivers
}

// Cycles returns the bus cycles elapsed.
func (d *Device) Cycles() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cycles
}

// Ignored returns how many bytes were discarded because the UART was disabled.
func (d *Device) Ignored() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ignored
}

// ------------------------------- Internals --------------------------------

func (d *Device) enabled() bool   { return d.ctrl&rvuart.CtrlEnable != 0 }
func (d *Device) txEnabled() bool { return d.enabled() && d.ctrl&rvuart.CtrlTxEnable != 0 }
func (d *Device) rxEnabled() bool { return d.enabled() && d.ctrl&rvuart.CtrlRxEnable != 0 }

func (d *Device) txThreshold() int {
	return int((d.thresh >> rvuart.ThreshTxPos) & rvuart.ThreshMask)
}

func (d *Device) rxThreshold() int {
	return int((d.thresh >> rvuart.ThreshRxPos) & rvuart.ThreshMask)
}

func (d *Device) cycleLocked() {
	d.cycles++
	if d.pace <= 0 || !d.txEnabled() {
		return
	}
	d.phase++
	if d.phase >= d.pace {
		d.phase = 0
		d.stepTxLocked()
	}
}

// stepTxLocked finishes the byte on the line and loads the next one from the
// FIFO. A TX threshold cause is latched when the level falls through the
// threshold.
func (d *Device) stepTxLocked() {
	if d.shifter >= 0 {
		d.wire = append(d.wire, byte(d.shifter))
		d.shifter = -1
	}
	if len(d.tx) == 0 {
		return
	}
	before := len(d.tx)
	d.shifter = int(d.tx[0])
	d.tx = d.tx[1:]
	if thr := d.txThreshold(); before > thr && len(d.tx) <= thr {
		d.irqPend |= uint32(rvuart.IRQTxThreshold)
	}
}

func (d *Device) receiveLocked(b byte) {
	if !d.rxEnabled() {
		d.ignored++
		return
	}
	if len(d.rx) >= rvuart.FIFODepth {
		d.raiseErrLocked(rvuart.ErrBitRxOverflow)
		return
	}
	d.rx = append(d.rx, b)
	if thr := d.rxThreshold(); thr > 0 && len(d.rx) >= thr {
		d.irqPend |= uint32(rvuart.IRQRxThreshold)
	}
	if len(d.rx) == rvuart.FIFODepth {
		d.irqPend |= uint32(rvuart.IRQRxFull)
	}
}

func (d *Device) raiseErrLocked(bits uint32) {
	d.errBits |= bits
	d.irqPend |= uint32(rvuart.IRQError)
}

// deliver calls the handler while an enabled cause is pending. The check and
// the in-handler flag change under one lock, so a cause raised by another
// goroutine during a delivery is picked up by the loop here.
func (d *Device) deliver() {
	for i := 0; i < maxChainedIRQs; i++ {
		d.mu.Lock()
		if d.handler == nil || d.inISR || d.irqPend&d.irqEn == 0 {
			d.mu.Unlock()
			return
		}
		d.inISR = true
		h := d.handler
		d.mu.Unlock()

		h()

		d.mu.Lock()
		d.inISR = false
		d.delivers++
		d.mu.Unlock()
	}
}
