// rvuart/regs.go

package rvuart

// Registers is the raw accessor for one UART register block. Offsets are byte
// offsets from the peripheral base. Implementations must perform every access
// against the device (no caching, no elision, no reordering) and never fail:
// the base address is assumed valid and mapped.
type Registers interface {
	Read(off uint32) uint32
	Write(off, v uint32)
}

// FIFODepth is the number of entries in each of the TX and RX hardware FIFOs.
const FIFODepth = 16

// Register offsets.
const (
	RegData    uint32 = 0x00 // R pops RX, W pushes TX
	RegStatus  uint32 = 0x04 // FIFO levels, TX idle
	RegCtrl    uint32 = 0x08 // enable bits and framing
	RegBaud    uint32 = 0x0C // baud-rate code
	RegThresh  uint32 = 0x10 // TX/RX trigger levels
	RegIRQEn   uint32 = 0x14 // interrupt mask
	RegIRQPend uint32 = 0x18 // pending causes, write 1 to clear
	RegErr     uint32 = 0x1C // sticky line errors, write 1 to clear

	RegBlockSize = 0x20
)

// STATUS fields.
const (
	StatusTxLevelPos = 0
	StatusRxLevelPos = 8
	StatusLevelMask  = 0x1F
	StatusTxIdle     = 1 << 16
)

// THRESH fields.
const (
	ThreshTxPos = 0
	ThreshRxPos = 8
	ThreshMask  = 0x1F
)

const (
	dataMask          = 0xFF
	baudCodeMask      = 0x7
	ctrlParityPos     = 4
	ctrlParityMask    = 0x3
	ctrlParityEvenVal = 1
	ctrlParityOddVal  = 2
)

// CTRL bits.
const (
	CtrlEnable   = 1 << 0
	CtrlTxEnable = 1 << 1
	CtrlRxEnable = 1 << 2
	CtrlData7    = 1 << 3
	CtrlStop2    = 1 << 6
)

// ERR bits.
const (
	ErrBitParity     = 1 << 0
	ErrBitFrame      = 1 << 1
	ErrBitRxOverflow = 1 << 2
	ErrBitTxOverflow = 1 << 3

	errBitsAll = ErrBitParity | ErrBitFrame | ErrBitRxOverflow | ErrBitTxOverflow
)

// IRQ is a set of interrupt causes, as found in IRQ_EN and IRQ_PEND.
type IRQ uint32

const (
	IRQRxThreshold IRQ = 1 << 0 // RX level reached the RX threshold
	IRQRxFull      IRQ = 1 << 1 // RX FIFO full
	IRQTxThreshold IRQ = 1 << 2 // TX level fell to the TX threshold
	IRQError       IRQ = 1 << 3 // a line error was latched in ERR

	IRQAll = IRQRxThreshold | IRQRxFull | IRQTxThreshold | IRQError

	irqRx = IRQRxThreshold | IRQRxFull
)

func (m IRQ) String() string {
	if m == 0 {
		return "none"
	}
	s := ""
	add := func(bit IRQ, name string) {
		if m&bit == 0 {
			return
		}
		if s != "" {
			s += "|"
		}
		s += name
	}
	add(IRQRxThreshold, "rx-threshold")
	add(IRQRxFull, "rx-full")
	add(IRQTxThreshold, "tx-threshold")
	add(IRQError, "error")
	if m&^IRQAll != 0 {
		if s != "" {
			s += "|"
		}
		s += "unknown"
	}
	return s
}
