// rvuart/status.go

package rvuart

// FIFOStatus is one read of the STATUS register interpreted against the
// configured thresholds. It is a snapshot: the peripheral keeps shifting bytes
// while software looks at it, so callers re-read instead of keeping it.
type FIFOStatus struct {
	TxLevel int
	RxLevel int
	TxIdle  bool // TX FIFO empty and shifter idle

	TxEmpty            bool
	TxFull             bool
	TxThresholdReached bool // TxLevel <= TX threshold: safe to keep filling
	RxEmpty            bool
	RxFull             bool
	RxThresholdReached bool // RxLevel >= RX threshold: worth draining in a batch
}

// decodeStatus derives the FIFO predicates from a raw STATUS value.
func decodeStatus(raw uint32, txThr, rxThr Threshold) FIFOStatus {
	tx := int((raw >> StatusTxLevelPos) & StatusLevelMask)
	rx := int((raw >> StatusRxLevelPos) & StatusLevelMask)
	return FIFOStatus{
		TxLevel:            tx,
		RxLevel:            rx,
		TxIdle:             raw&StatusTxIdle != 0,
		TxEmpty:            tx == 0,
		TxFull:             tx >= FIFODepth,
		TxThresholdReached: tx <= int(txThr),
		RxEmpty:            rx == 0,
		RxFull:             rx >= FIFODepth,
		RxThresholdReached: rx >= int(rxThr),
	}
}

// Status reads STATUS and returns the decoded snapshot.
func (u *UART) Status() FIFOStatus {
	return decodeStatus(u.regs.Read(RegStatus), u.cfg.TxThreshold, u.cfg.RxThreshold)
}

// TxFifoEmpty reports whether the TX FIFO holds no bytes.
func (u *UART) TxFifoEmpty() bool { return u.Status().TxEmpty }

// TxFifoFull reports whether the TX FIFO has no free entry.
func (u *UART) TxFifoFull() bool { return u.Status().TxFull }

// TxThresholdReached reports whether the TX level is at or below the TX threshold.
func (u *UART) TxThresholdReached() bool { return u.Status().TxThresholdReached }

// RxFifoEmpty reports whether the RX FIFO holds no bytes.
func (u *UART) RxFifoEmpty() bool { return u.Status().RxEmpty }

// RxFifoFull reports whether the RX FIFO is full.
func (u *UART) RxFifoFull() bool { return u.Status().RxFull }

// RxThresholdReached reports whether the RX level is at or above the RX threshold.
func (u *UART) RxThresholdReached() bool { return u.Status().RxThresholdReached }
