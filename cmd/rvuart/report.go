package main

import (
	"fmt"
	"io"

	"github.com/jangala-dev/tinygo-rvuart/rvuart"
)

func printStats(w io.Writer, u *rvuart.UART, label string) {
	s := u.Stats()
	r := u.DebugRegs()
	fmt.Fprintln(w, "==", label)
	fmt.Fprintf(w, "ISR:    count=%d spurious=%d errors=%d\n", s.ISRCount, s.Spurious, s.ErrorIRQs)
	fmt.Fprintf(w, "RX:     bytes=%d dropped=%d ringMax=%d\n", s.RxBytes, s.RxDropped, s.RingMaxLen)
	fmt.Fprintf(w, "TX:     refills=%d bytes=%d\n", s.TxRefills, s.TxBytes)
	fmt.Fprintf(w, "Waits:  timeouts=%d\n", s.Timeouts)
	fmt.Fprintf(w, "Regs:   STATUS=0x%08x CTRL=0x%08x BAUD=%d THRESH=0x%04x IRQ_EN=0x%x IRQ_PEND=0x%x ERR=0x%x\n",
		r.Status, r.Ctrl, r.Baud, r.Thresh, r.IRQEn, r.IRQPend, r.Err)
}

func printStatus(w io.Writer, u *rvuart.UART) {
	s := u.Status()
	fmt.Fprintf(w, "config:   %v (hardware: %v)\n", u.Config(), u.HardwareConfig())
	fmt.Fprintf(w, "tx fifo:  level=%-2d empty=%-5t full=%-5t threshold=%-5t idle=%t\n",
		s.TxLevel, s.TxEmpty, s.TxFull, s.TxThresholdReached, s.TxIdle)
	fmt.Fprintf(w, "rx fifo:  level=%-2d empty=%-5t full=%-5t threshold=%t\n",
		s.RxLevel, s.RxEmpty, s.RxFull, s.RxThresholdReached)
	fmt.Fprintf(w, "irq:      %v\n", u.Interrupts())
}

// verify compares got with want. On the first mismatch it writes the bytes
// around it and returns a description; it returns "" when they match.
func verify(w io.Writer, want, got []byte, radius int) string {
	n := len(want)
	if len(got) < n {
		n = len(got)
	}
	for i := 0; i < n; i++ {
		if got[i] != want[i] {
			fmt.Fprintln(w, "first mismatch at offset", i)
			printContext(w, want, got, i, radius)
			return fmt.Sprintf("mismatch at offset %d: got 0x%02X want 0x%02X", i, got[i], want[i])
		}
	}
	if len(got) != len(want) {
		return fmt.Sprintf("short: got %d of %d bytes", len(got), len(want))
	}
	return ""
}

func printContext(w io.Writer, want, got []byte, pivot, radius int) {
	start := pivot - radius
	if start < 0 {
		start = 0
	}
	end := pivot + radius + 1
	fmt.Fprintf(w, "context (hex): bytes %d to %d\n", start, end-1)
	fmt.Fprint(w, " exp:")
	printHex(w, want, start, end, pivot)
	fmt.Fprint(w, " act:")
	printHex(w, got, start, end, pivot)
}

func printHex(w io.Writer, b []byte, start, end, pivot int) {
	for i := start; i < end && i < len(b); i++ {
		if i == pivot {
			fmt.Fprintf(w, "[%02X]", b[i])
		} else {
			fmt.Fprintf(w, " %02X", b[i])
		}
	}
	fmt.Fprintln(w)
}

// Deterministic test patterns.
func patternA(i int) byte { return byte((i*31 + 0x55) & 0xFF) }
func patternB(i int) byte { return byte((i*17 + 0xA6) & 0xFF) }

func fill(gen func(int) byte, n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = gen(i)
	}
	return p
}
