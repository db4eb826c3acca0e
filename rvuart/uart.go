// rvuart/uart.go

// Package rvuart drives the memory-mapped UART of a PicoRV32 SoC. It offers
// blocking and non-blocking byte I/O over the TX/RX hardware FIFOs and an
// interrupt dispatcher that hands received bytes to a callback, typically one
// feeding a single-producer/single-consumer RingBuffer drained by the main
// context.
//
// Blocking calls busy-spin on the STATUS register; there is no scheduler to
// yield to. Every FIFO predicate re-reads hardware. Callbacks only ever run
// inside HandleInterrupt, which the platform calls when the UART interrupt
// line fires.
package rvuart

import (
	"time"

	"go.uber.org/atomic"
)

// Clock is the time source used for blocking-call deadlines.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option customises a UART at Open.
type Option func(*UART)

// WithClock replaces the time source used by timeouts.
func WithClock(c Clock) Option {
	return func(u *UART) { u.clock = c }
}

// UART is the handle for one peripheral instance. Create it with Open or
// OpenDefault; exactly one handle should exist per register block.
//
// The configuration is written only by Open and Configure. Error latches,
// statistics, the callback set and the TX ring are the only fields touched
// from both the interrupt and main contexts, and each is a single atomic word.
type UART struct {
	regs  Registers
	cfg   Config
	clock Clock

	callbacks atomic.Pointer[Callbacks]
	txRing    atomic.Pointer[RingBuffer]
	errs      errorLatch
	stats     counters

	// IRQTxThreshold as enabled when the TX ring was attached.
	txIRQSaved atomic.Bool
}

// Open validates cfg, then programs the peripheral: UART disabled, RX FIFO
// purged, baud code, framing and thresholds written, interrupts masked, pending
// causes and error latches cleared, UART re-enabled. An invalid cfg returns a
// *ConfigError before any register access.
func Open(regs Registers, cfg Config, opts ...Option) (*UART, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	u := &UART{regs: regs, clock: systemClock{}}
	for _, o := range opts {
		o(u)
	}
	u.apply(cfg)
	return u, nil
}

// OpenDefault opens the UART with DefaultConfig (115200 8N1, thresholds at 8).
func OpenDefault(regs Registers, opts ...Option) (*UART, error) {
	return Open(regs, DefaultConfig(), opts...)
}

// Configure re-initialises an open UART with cfg. Interrupts are left
// disabled; callbacks stay registered.
func (u *UART) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	u.apply(cfg)
	return nil
}

func (u *UART) apply(cfg Config) {
	ctrl, baud, thresh := cfg.encode()

	// 1) Disable and mask while reprogramming.
	u.regs.Write(RegCtrl, 0)
	u.regs.Write(RegIRQEn, 0)

	// 2) Purge stale RX bytes. Bounded: the FIFO cannot hold more than its depth.
	for i := 0; i < FIFODepth; i++ {
		if (u.regs.Read(RegStatus)>>StatusRxLevelPos)&StatusLevelMask == 0 {
			break
		}
		_ = u.regs.Read(RegData)
	}

	// 3) Rate, thresholds, then acknowledge everything pending.
	u.regs.Write(RegBaud, baud)
	u.regs.Write(RegThresh, thresh)
	u.regs.Write(RegIRQPend, uint32(IRQAll))
	u.regs.Write(RegErr, errBitsAll)
	u.errs.reset()
	u.cfg = cfg

	// 4) Framing and enable in one CTRL write.
	u.regs.Write(RegCtrl, ctrl)
}

// Config returns the configuration applied by the last Open or Configure.
func (u *UART) Config() Config { return u.cfg }

// HardwareConfig decodes the configuration currently held by the CTRL, BAUD
// and THRESH registers.
func (u *UART) HardwareConfig() Config {
	return decodeConfig(u.regs.Read(RegCtrl), u.regs.Read(RegBaud), u.regs.Read(RegThresh))
}

// Regs is a raw snapshot of the side-effect-free registers.
type Regs struct {
	Status  uint32
	Ctrl    uint32
	Baud    uint32
	Thresh  uint32
	IRQEn   uint32
	IRQPend uint32
	Err     uint32
}

// DebugRegs reads every register that can be read without side effects (all
// but DATA).
func (u *UART) DebugRegs() Regs {
	return Regs{
		Status:  u.regs.Read(RegStatus),
		Ctrl:    u.regs.Read(RegCtrl),
		Baud:    u.regs.Read(RegBaud),
		Thresh:  u.regs.Read(RegThresh),
		IRQEn:   u.regs.Read(RegIRQEn),
		IRQPend: u.regs.Read(RegIRQPend),
		Err:     u.regs.Read(RegErr),
	}
}
