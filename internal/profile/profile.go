// Package profile loads board profiles: where a UART's registers are, how it
// is configured, where its interrupt arrives and which host serial port is
// wired to it.
package profile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"

	"github.com/jangala-dev/tinygo-rvuart/rvuart"
)

// Profile is one board description.
//
//	window:
//	  path: /dev/uio0
//	  base: 0x0
//	  size: 0x20
//	uart:
//	  baud: 115200
//	  data_bits: 8
//	  parity: none
//	  stop_bits: 1
//	  tx_threshold: 8
//	  rx_threshold: 8
//	irq:
//	  uio: /dev/uio0
//	peer:
//	  port: /dev/ttyUSB0
type Profile struct {
	Name   string `yaml:"name"`
	Window Window `yaml:"window"`
	UART   UART   `yaml:"uart"`
	IRQ    IRQ    `yaml:"irq"`
	Peer   Peer   `yaml:"peer"`
}

// Window locates the register block.
type Window struct {
	Path string `yaml:"path"`
	Base int64  `yaml:"base"`
	Size int    `yaml:"size"`
}

// UART mirrors rvuart.Config with the parity spelled out.
type UART struct {
	Baud        uint32 `yaml:"baud"`
	DataBits    uint8  `yaml:"data_bits"`
	Parity      string `yaml:"parity"`
	StopBits    uint8  `yaml:"stop_bits"`
	TxThreshold uint8  `yaml:"tx_threshold"`
	RxThreshold uint8  `yaml:"rx_threshold"`
}

// IRQ names the interrupt source: a GPIO line or a UIO device. Empty means
// the tools poll.
type IRQ struct {
	GPIOChip string `yaml:"gpio_chip"`
	GPIOLine int    `yaml:"gpio_line"`
	UIO      string `yaml:"uio"`
}

// Peer is the host serial port looped to the board's UART.
type Peer struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

var parities = []string{"none", "even", "odd"}

// Default returns the profile used when no file is given: the UART at UIO
// map 0 with rvuart.DefaultConfig, polled.
func Default() *Profile {
	c := rvuart.DefaultConfig()
	return &Profile{
		Name:   "default",
		Window: Window{Path: "/dev/uio0", Size: rvuart.RegBlockSize},
		UART: UART{
			Baud:        uint32(c.Baud),
			DataBits:    c.DataBits,
			Parity:      parities[c.Parity],
			StopBits:    c.StopBits,
			TxThreshold: uint8(c.TxThreshold),
			RxThreshold: uint8(c.RxThreshold),
		},
		Peer: Peer{Baud: int(c.Baud)},
	}
}

// Load reads a profile from path. Missing fields keep their Default values;
// unknown fields are an error.
func Load(path string) (*Profile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates a profile document.
func Parse(b []byte) (*Profile, error) {
	p := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the window, the UART configuration and the IRQ source.
func (p *Profile) Validate() error {
	if p.Window.Size < rvuart.RegBlockSize {
		return fmt.Errorf("window size %d smaller than the %d-byte register block", p.Window.Size, rvuart.RegBlockSize)
	}
	if _, err := p.Config(); err != nil {
		return err
	}
	if p.IRQ.GPIOChip != "" && p.IRQ.UIO != "" {
		return errors.New("irq: gpio_chip and uio are mutually exclusive")
	}
	return nil
}

// Config converts the uart section to a validated rvuart.Config.
func (p *Profile) Config() (rvuart.Config, error) {
	par := slices.Index(parities, strings.ToLower(p.UART.Parity))
	if par < 0 {
		return rvuart.Config{}, fmt.Errorf("uart: unknown parity %q (want one of %v)", p.UART.Parity, parities)
	}
	c := rvuart.Config{
		Baud:        rvuart.BaudRate(p.UART.Baud),
		DataBits:    p.UART.DataBits,
		Parity:      rvuart.UARTParity(par),
		StopBits:    p.UART.StopBits,
		TxThreshold: rvuart.Threshold(p.UART.TxThreshold),
		RxThreshold: rvuart.Threshold(p.UART.RxThreshold),
	}
	if err := c.Validate(); err != nil {
		return rvuart.Config{}, fmt.Errorf("uart: %w", err)
	}
	return c, nil
}
