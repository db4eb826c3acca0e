package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"
	"github.com/tarm/serial"

	"github.com/jangala-dev/tinygo-rvuart/rvuart"
)

var (
	integrityOpts = struct {
		port     string
		bytes    int
		chunk    int
		random   bool
		timeout  time.Duration
		preamble bool
	}{}

	integrityCmd = &cobra.Command{
		Use:   "integrity",
		Short: "Send a payload from a host serial port and verify the board's echo",
		Long: "Open the profile's peer serial port with the board's framing, send a " +
			"deterministic or random payload in chunks and compare the echoed bytes. " +
			"The board must run the echo example.",
		RunE: runIntegrity,
	}
)

const preambleByte = 0x55

func init() {
	f := integrityCmd.Flags()
	f.StringVar(&integrityOpts.port, "port", "", "serial port (overrides the profile's peer.port)")
	f.IntVarP(&integrityOpts.bytes, "bytes", "n", 64*1024, "payload bytes")
	f.IntVar(&integrityOpts.chunk, "chunk", 192, "bytes per write")
	f.BoolVar(&integrityOpts.random, "random", false, "random payload instead of the fixed pattern")
	f.DurationVar(&integrityOpts.timeout, "timeout", 30*time.Second, "overall deadline")
	f.BoolVar(&integrityOpts.preamble, "preamble", true, "send and skip a preamble byte first")
	rootCmd.AddCommand(integrityCmd)
}

func runIntegrity(cmd *cobra.Command, args []string) error {
	p, err := loadProfile()
	if err != nil {
		return err
	}
	cfg, err := p.Config()
	if err != nil {
		return err
	}
	name := p.Peer.Port
	if integrityOpts.port != "" {
		name = integrityOpts.port
	}
	if name == "" {
		return errors.New("no serial port: set peer.port in the profile or pass --port")
	}
	baud := p.Peer.Baud
	if baud == 0 {
		baud = int(cfg.Baud)
	}

	port, err := serial.OpenPort(serialConfig(name, baud, cfg))
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	defer port.Close()
	if err := port.Flush(); err != nil {
		return err
	}

	src := fill(patternA, integrityOpts.bytes)
	if integrityOpts.random {
		if src, err = payload(integrityOpts.bytes); err != nil {
			return err
		}
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "rvuart integrity: %s %d %d%v%d, %d bytes\n", name, baud, cfg.DataBits, cfg.Parity, cfg.StopBits, len(src))
	start := time.Now()
	msg := exchange(w, port, src, integrityOpts.chunk, integrityOpts.preamble, integrityOpts.timeout)
	elapsed := time.Since(start)
	if msg != "" {
		fmt.Fprintln(w, "[FAIL]", msg)
		return errors.New("integrity check failed")
	}
	fmt.Fprintf(w, "[PASS] %d bytes echoed in %v (%.0f B/s)\n", len(src), elapsed.Round(time.Millisecond),
		float64(len(src))/elapsed.Seconds())
	return nil
}

func serialConfig(name string, baud int, cfg rvuart.Config) *serial.Config {
	c := &serial.Config{
		Name:        name,
		Baud:        baud,
		Size:        byte(cfg.DataBits),
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 200 * time.Millisecond,
	}
	switch cfg.Parity {
	case rvuart.ParityEven:
		c.Parity = serial.ParityEven
	case rvuart.ParityOdd:
		c.Parity = serial.ParityOdd
	}
	if cfg.StopBits == 2 {
		c.StopBits = serial.Stop2
	}
	return c
}

// exchange writes src in chunks from one goroutine while reading the echo on
// the caller's, then verifies it. It returns "" on success.
func exchange(w io.Writer, rw io.ReadWriter, src []byte, chunk int, preamble bool, timeout time.Duration) string {
	if chunk <= 0 {
		chunk = len(src)
	}
	deadline := time.Now().Add(timeout)

	sendErr := make(chan error, 1)
	go func() {
		if preamble {
			if _, err := rw.Write([]byte{preambleByte}); err != nil {
				sendErr <- err
				return
			}
		}
		for off := 0; off < len(src); off += chunk {
			end := off + chunk
			if end > len(src) {
				end = len(src)
			}
			if _, err := rw.Write(src[off:end]); err != nil {
				sendErr <- err
				return
			}
		}
		sendErr <- nil
	}()

	want := len(src)
	if preamble {
		want++
	}
	got := make([]byte, 0, want)
	buf := make([]byte, 256)
	for len(got) < want {
		if time.Now().After(deadline) {
			log.Printf("timeout after %d of %d bytes", len(got), want)
			break
		}
		n, err := rw.Read(buf)
		got = append(got, buf[:n]...)
		if err != nil && !errors.Is(err, io.EOF) {
			return err.Error()
		}
	}
	if err := <-sendErr; err != nil {
		return "write: " + err.Error()
	}
	if preamble {
		if len(got) == 0 || got[0] != preambleByte {
			return "preamble not echoed"
		}
		got = got[1:]
	}
	return verify(w, src, got, 16)
}
