//go:build linux

package main

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/jangala-dev/tinygo-rvuart/internal/profile"
	"github.com/jangala-dev/tinygo-rvuart/irqline"
	"github.com/jangala-dev/tinygo-rvuart/mmio"
	"github.com/jangala-dev/tinygo-rvuart/rvuart"
)

var (
	probeOpts = struct {
		listen time.Duration
		ring   int
		hello  string
	}{}

	probeCmd = &cobra.Command{
		Use:   "probe",
		Short: "Map the UART registers, configure it and report its state",
		Long: "Map the profile's register window, open the UART with the profile's " +
			"configuration and print its registers, status, latched errors and counters. " +
			"With --listen, receive for a while through the profile's interrupt line " +
			"(or by polling when none is set) and print what arrived.",
		RunE: runProbe,
	}
)

func init() {
	f := probeCmd.Flags()
	f.DurationVar(&probeOpts.listen, "listen", 0, "receive for this long before reporting")
	f.IntVar(&probeOpts.ring, "ring", 1024, "receive ring size (power of two)")
	f.StringVar(&probeOpts.hello, "hello", "", "string to transmit before listening")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	p, err := loadProfile()
	if err != nil {
		return err
	}
	cfg, err := p.Config()
	if err != nil {
		return err
	}
	m, err := mmio.Map(p.Window.Path, p.Window.Base, p.Window.Size)
	if err != nil {
		return err
	}
	defer m.Close()

	u, err := rvuart.Open(m, cfg)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s: %s @ 0x%x (%d bytes)\n", p.Name, p.Window.Path, p.Window.Base, m.Size())
	fmt.Fprintf(w, "config:   %v\n", u.Config())
	fmt.Fprintf(w, "hardware: %v\n", u.HardwareConfig())
	r := u.DebugRegs()
	fmt.Fprintf(w, "regs: status=0x%08x ctrl=0x%08x baud=0x%08x thresh=0x%08x irq_en=0x%08x irq_pend=0x%08x err=0x%08x\n",
		r.Status, r.Ctrl, r.Baud, r.Thresh, r.IRQEn, r.IRQPend, r.Err)
	printStatus(w, u)

	if probeOpts.hello != "" {
		if _, err := u.WriteString(probeOpts.hello); err != nil {
			return err
		}
		if err := u.WaitTxComplete(time.Second); err != nil {
			return err
		}
	}
	if probeOpts.listen > 0 {
		got, err := listen(u, p, probeOpts.listen, probeOpts.ring)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "received %d bytes: %q\n", len(got), got)
	}

	if e, ok := u.GetErrors(); ok {
		fmt.Fprintln(w, "errors:", e)
	} else {
		fmt.Fprintln(w, "errors: none")
	}
	printStats(w, u, "probe")
	return nil
}

// listen collects received bytes for d, interrupt driven when the profile
// names an interrupt source.
func listen(u *rvuart.UART, p *profile.Profile, d time.Duration, ringSize int) ([]byte, error) {
	deadline := time.Now().Add(d)
	var got []byte

	rb, err := rvuart.NewRingBuffer(ringSize)
	if err != nil {
		return nil, err
	}
	u.SetCallbacks(rvuart.Callbacks{
		RX:    u.RingSink(rb),
		Error: func(e rvuart.Errors) { log.Printf("line error: %v", e) },
	})
	src, err := watchIRQ(p, u)
	if err != nil {
		return nil, err
	}
	if src == nil {
		for time.Now().Before(deadline) {
			b, err := u.GetByte(10 * time.Millisecond)
			if err == nil {
				got = append(got, b)
			}
		}
		return got, nil
	}
	if err := u.EnableInterrupts(rvuart.IRQRxThreshold | rvuart.IRQRxFull | rvuart.IRQError); err != nil {
		src.Close()
		return nil, err
	}

	buf := make([]byte, 256)
	for time.Now().Before(deadline) {
		n := rb.TryRead(buf)
		if n == 0 {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		got = append(got, buf[:n]...)
	}
	if err := src.Close(); err != nil {
		log.Printf("closing interrupt source: %v", err)
	}
	u.DisableInterrupts()
	for n := rb.TryRead(buf); n > 0; n = rb.TryRead(buf) {
		got = append(got, buf[:n]...)
	}
	// Bytes below the RX threshold never raise an interrupt.
	for {
		b, err := u.TryGetByte()
		if err != nil {
			break
		}
		got = append(got, b)
	}
	return got, nil
}

func watchIRQ(p *profile.Profile, u *rvuart.UART) (io.Closer, error) {
	switch {
	case p.IRQ.GPIOChip != "":
		return irqline.WatchGPIO(p.IRQ.GPIOChip, p.IRQ.GPIOLine, u)
	case p.IRQ.UIO != "":
		return irqline.WatchUIO(p.IRQ.UIO, u)
	}
	return nil, nil
}
