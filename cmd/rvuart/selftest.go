package main

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/mazen160/go-random"
	"github.com/spf13/cobra"

	"github.com/jangala-dev/tinygo-rvuart/rvuart"
	"github.com/jangala-dev/tinygo-rvuart/rvuart/uartsim"
)

var (
	selftestOpts = struct {
		size    int
		pace    int
		verbose bool
	}{}

	selftestCmd = &cobra.Command{
		Use:   "selftest",
		Short: "Run the driver against the register-level simulator",
		Long: "Exercise polled echo, threshold batching, interrupt RX into a ring, " +
			"RX overflow, interrupt TX refill and error reporting on a simulated UART.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if selftestOpts.size <= 0 || selftestOpts.pace <= 0 {
				return fmt.Errorf("size and pace must be positive")
			}
			pass, fail := runSelftests(cmd.OutOrStdout(), selftestOpts.size, selftestOpts.pace, selftestOpts.verbose)
			if fail > 0 {
				return fmt.Errorf("%d of %d tests failed", fail, pass+fail)
			}
			return nil
		},
	}
)

func init() {
	selftestCmd.Flags().IntVarP(&selftestOpts.size, "size", "n", 1024, "payload bytes per transfer test")
	selftestCmd.Flags().IntVar(&selftestOpts.pace, "pace", 64, "simulated bus cycles per transmitted byte")
	selftestCmd.Flags().BoolVarP(&selftestOpts.verbose, "verbose", "v", false, "print driver counters after each test")
	rootCmd.AddCommand(selftestCmd)
}

const drainTimeout = 5 * time.Second

type selftest struct {
	name string
	run  func(w io.Writer, size, pace int) (*rvuart.UART, string)
}

var selftests = []selftest{
	{"polled echo", testPolledEcho},
	{"rx threshold batching", testThresholdBatch},
	{"interrupt rx ring", testRxRing},
	{"rx ring overflow", testRxOverflow},
	{"interrupt tx ring", testTxRing},
	{"tx callback refill", testTxCallback},
	{"line errors", testLineErrors},
}

func runSelftests(w io.Writer, size, pace int, verbose bool) (pass, fail int) {
	fmt.Fprintln(w, "rvuart self-test: payload", size, "bytes, pace", pace, "cycles/byte")
	for _, t := range selftests {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "[Test]", t.name)
		u, msg := t.run(w, size, pace)
		if msg == "" {
			fmt.Fprintln(w, "  PASS")
			pass++
		} else {
			fmt.Fprintln(w, "  FAIL:", msg)
			fail++
		}
		if verbose && u != nil {
			printStats(w, u, t.name)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Summary")
	fmt.Fprintln(w, "  passed =", pass)
	fmt.Fprintln(w, "  failed =", fail)
	return pass, fail
}

func payload(n int) ([]byte, error) {
	s, err := random.String(n)
	if err != nil {
		return nil, fmt.Errorf("random payload: %w", err)
	}
	return []byte(s), nil
}

func openSim(cfg rvuart.Config, pace int) (*uartsim.Device, *rvuart.UART, string) {
	dev := uartsim.New(uartsim.WithCyclesPerByte(pace))
	u, err := rvuart.Open(dev, cfg)
	if err != nil {
		return nil, nil, err.Error()
	}
	return dev, u, ""
}

func withThresholds(baud rvuart.BaudRate, tx, rx rvuart.Threshold) rvuart.Config {
	c := rvuart.DefaultConfig()
	c.Baud = baud
	c.TxThreshold = tx
	c.RxThreshold = rx
	return c
}

// testPolledEcho sends the payload a FIFO at a time, loops the wire back into
// the receiver and reads it with the blocking API.
func testPolledEcho(w io.Writer, size, pace int) (*rvuart.UART, string) {
	dev, u, msg := openSim(rvuart.DefaultConfig(), pace)
	if msg != "" {
		return nil, msg
	}
	src, err := payload(size)
	if err != nil {
		return u, err.Error()
	}
	got := make([]byte, 0, size)
	for off := 0; off < len(src); off += rvuart.FIFODepth {
		end := off + rvuart.FIFODepth
		if end > len(src) {
			end = len(src)
		}
		if _, err := u.WriteTimeout(src[off:end], drainTimeout); err != nil {
			return u, err.Error()
		}
		if err := u.WaitTxComplete(drainTimeout); err != nil {
			return u, err.Error()
		}
		dev.Loopback()
		buf := make([]byte, end-off)
		if _, err := u.ReadTimeout(buf, drainTimeout); err != nil {
			return u, err.Error()
		}
		got = append(got, buf...)
	}
	return u, verify(w, src, got, 16)
}

// testThresholdBatch checks that with RX threshold 8 the handler runs once per
// eight received bytes.
func testThresholdBatch(w io.Writer, size, pace int) (*rvuart.UART, string) {
	dev, u, msg := openSim(withThresholds(rvuart.Baud115200, rvuart.Threshold8, rvuart.Threshold8), pace)
	if msg != "" {
		return nil, msg
	}
	rb, _ := rvuart.NewRingBuffer(64)
	u.SetCallbacks(rvuart.Callbacks{RX: u.RingSink(rb)})
	dev.Attach(u.HandleInterrupt)
	if err := u.EnableInterrupts(rvuart.IRQRxThreshold); err != nil {
		return u, err.Error()
	}
	src := fill(patternA, 32)
	dev.Inject(src...)
	if n := dev.Deliveries(); n != 4 {
		return u, fmt.Sprintf("%d interrupts for 32 bytes; want 4", n)
	}
	got := make([]byte, 64)
	n := rb.TryRead(got)
	return u, verify(w, src, got[:n], 8)
}

// testRxRing streams the payload into a ring drained by the main context.
func testRxRing(w io.Writer, size, pace int) (*rvuart.UART, string) {
	dev, u, msg := openSim(withThresholds(rvuart.Baud115200, rvuart.Threshold8, rvuart.Threshold1), pace)
	if msg != "" {
		return nil, msg
	}
	rb, _ := rvuart.NewRingBuffer(256)
	u.SetCallbacks(rvuart.Callbacks{RX: u.RingSink(rb)})
	dev.Attach(u.HandleInterrupt)
	if err := u.EnableInterrupts(rvuart.IRQRxThreshold | rvuart.IRQRxFull); err != nil {
		return u, err.Error()
	}
	src, err := payload(size)
	if err != nil {
		return u, err.Error()
	}
	var got []byte
	buf := make([]byte, 64)
	for off := 0; off < len(src); off += 64 {
		end := off + 64
		if end > len(src) {
			end = len(src)
		}
		dev.Inject(src[off:end]...)
		n := rb.TryRead(buf)
		got = append(got, buf[:n]...)
	}
	if e, ok := u.GetErrors(); ok {
		return u, "unexpected errors: " + e.String()
	}
	return u, verify(w, src, got, 16)
}

// testRxOverflow fills a small ring: the oldest bytes survive, the newest are
// dropped and RX overflow is reported once.
func testRxOverflow(w io.Writer, size, pace int) (*rvuart.UART, string) {
	dev, u, msg := openSim(withThresholds(rvuart.Baud115200, rvuart.Threshold8, rvuart.Threshold1), pace)
	if msg != "" {
		return nil, msg
	}
	rb, _ := rvuart.NewRingBuffer(16)
	u.SetCallbacks(rvuart.Callbacks{RX: u.RingSink(rb)})
	dev.Attach(u.HandleInterrupt)
	if err := u.EnableInterrupts(rvuart.IRQRxThreshold); err != nil {
		return u, err.Error()
	}
	src := fill(patternB, 20)
	dev.Inject(src...)
	got := make([]byte, 32)
	n := rb.TryRead(got)
	if m := verify(w, src[:15], got[:n], 8); m != "" {
		return u, m
	}
	e, ok := u.GetErrors()
	if !ok || !e.RxOverflow {
		return u, "rx overflow not reported"
	}
	if _, again := u.GetErrors(); again {
		return u, "rx overflow reported twice"
	}
	if d := u.Stats().RxDropped; d != 5 {
		return u, fmt.Sprintf("dropped %d; want 5", d)
	}
	return u, ""
}

// testTxRing sends the payload through a TX ring at 921600 with both
// thresholds at 8; the handler keeps the FIFO topped up.
func testTxRing(w io.Writer, size, pace int) (*rvuart.UART, string) {
	dev, u, msg := openSim(withThresholds(rvuart.Baud921600, rvuart.Threshold8, rvuart.Threshold8), pace)
	if msg != "" {
		return nil, msg
	}
	dev.Attach(u.HandleInterrupt)
	rb, _ := rvuart.NewRingBuffer(256)
	u.SetTxRing(rb)
	if err := u.EnableInterrupts(rvuart.IRQTxThreshold); err != nil {
		return u, err.Error()
	}
	src, err := payload(size)
	if err != nil {
		return u, err.Error()
	}
	if _, err := u.WriteTimeout(src, drainTimeout); err != nil {
		return u, err.Error()
	}
	if err := u.WaitTxComplete(drainTimeout); err != nil {
		return u, err.Error()
	}
	if m := verify(w, src, dev.Wire(), 16); m != "" {
		return u, m
	}
	if size > 2*rvuart.FIFODepth && u.Stats().TxRefills == 0 {
		return u, "handler never refilled the FIFO"
	}
	return u, ""
}

// testTxCallback refills the FIFO from a TX callback with TryPutByte.
func testTxCallback(w io.Writer, size, pace int) (*rvuart.UART, string) {
	dev, u, msg := openSim(withThresholds(rvuart.Baud115200, rvuart.Threshold4, rvuart.Threshold8), pace)
	if msg != "" {
		return nil, msg
	}
	src := fill(patternA, size)
	i := 0
	refill := func(u *rvuart.UART) {
		for i < len(src) && u.TryPutByte(src[i]) == nil {
			i++
		}
	}
	u.SetCallbacks(rvuart.Callbacks{TX: refill})
	dev.Attach(u.HandleInterrupt)
	refill(u)
	if err := u.EnableInterrupts(rvuart.IRQTxThreshold); err != nil {
		return u, err.Error()
	}
	deadline := time.Now().Add(drainTimeout)
	for i < len(src) {
		if time.Now().After(deadline) {
			return u, fmt.Sprintf("stalled after %d of %d bytes", i, len(src))
		}
		_ = u.Status()
	}
	if err := u.WaitTxComplete(drainTimeout); err != nil {
		return u, err.Error()
	}
	if !bytes.Equal(dev.Wire(), src) {
		return u, verify(w, src, dev.Wire(), 16)
	}
	return u, ""
}

// testLineErrors raises parity and frame errors with the error interrupt
// enabled, then a TX overflow with it masked.
func testLineErrors(w io.Writer, size, pace int) (*rvuart.UART, string) {
	dev, u, msg := openSim(rvuart.DefaultConfig(), pace)
	if msg != "" {
		return nil, msg
	}
	var seen rvuart.Errors
	u.SetCallbacks(rvuart.Callbacks{Error: func(e rvuart.Errors) { seen = e }})
	dev.Attach(u.HandleInterrupt)
	if err := u.EnableInterrupts(rvuart.IRQError); err != nil {
		return u, err.Error()
	}
	dev.InjectError(rvuart.ErrBitParity | rvuart.ErrBitFrame)
	if !seen.Parity || !seen.Frame {
		return u, "error callback saw " + seen.String()
	}
	if e, ok := u.GetErrors(); !ok || !e.Parity || !e.Frame {
		return u, "GetErrors returned " + e.String()
	}

	u.DisableInterrupts()
	dev.InjectError(rvuart.ErrBitTxOverflow)
	if e, ok := u.GetErrors(); !ok || !e.TxOverflow || e.Parity {
		return u, "polled GetErrors returned " + e.String()
	}
	if e, ok := u.GetErrors(); ok {
		return u, "errors reported twice: " + e.String()
	}
	return u, ""
}
