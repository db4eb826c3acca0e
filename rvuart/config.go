// rvuart/config.go

package rvuart

import (
	"strconv"

	"golang.org/x/exp/slices"
)

// BaudRate is a line rate in bits per second. Only the rates listed by
// SupportedBaudRates can be programmed; the BAUD register holds the index of
// the rate in that table.
type BaudRate uint32

const (
	Baud9600   BaudRate = 9600
	Baud19200  BaudRate = 19200
	Baud38400  BaudRate = 38400
	Baud57600  BaudRate = 57600
	Baud115200 BaudRate = 115200
	Baud230400 BaudRate = 230400
	Baud460800 BaudRate = 460800
	Baud921600 BaudRate = 921600
)

// baudRates is ordered by BAUD register code.
var baudRates = []BaudRate{
	Baud9600, Baud19200, Baud38400, Baud57600,
	Baud115200, Baud230400, Baud460800, Baud921600,
}

// SupportedBaudRates returns the programmable rates in register-code order.
func SupportedBaudRates() []BaudRate { return slices.Clone(baudRates) }

func (b BaudRate) String() string { return strconv.FormatUint(uint64(b), 10) }

// UARTParity defines the parity setting used for UART communication.
type UARTParity uint8

const (
	// ParityNone disables parity generation and checking (the most common setting).
	ParityNone UARTParity = iota
	// ParityEven sets even parity (total number of 1 bits is even).
	ParityEven
	// ParityOdd sets odd parity (total number of 1 bits is odd).
	ParityOdd
)

func (p UARTParity) String() string {
	switch p {
	case ParityNone:
		return "N"
	case ParityEven:
		return "E"
	case ParityOdd:
		return "O"
	}
	return "?"
}

// Threshold is a FIFO trigger level in entries. For TX it is a low-water mark
// (at or below: room to refill); for RX a high-water mark (at or above: enough
// to drain in a batch).
type Threshold uint8

const (
	Threshold1  Threshold = 1
	Threshold2  Threshold = 2
	Threshold4  Threshold = 4
	Threshold8  Threshold = 8
	Threshold12 Threshold = 12
	Threshold14 Threshold = 14
	Threshold16 Threshold = 16
)

var thresholds = []Threshold{
	Threshold1, Threshold2, Threshold4, Threshold8,
	Threshold12, Threshold14, Threshold16,
}

// SupportedThresholds returns the programmable trigger levels in ascending order.
func SupportedThresholds() []Threshold { return slices.Clone(thresholds) }

// Config is the serial framing and FIFO trigger configuration of a UART.
type Config struct {
	Baud        BaudRate
	DataBits    uint8 // 7 or 8
	Parity      UARTParity
	StopBits    uint8 // 1 or 2
	TxThreshold Threshold
	RxThreshold Threshold
}

// DefaultConfig returns 115200 8N1 with both thresholds at half the FIFO.
func DefaultConfig() Config {
	return Config{
		Baud:        Baud115200,
		DataBits:    8,
		Parity:      ParityNone,
		StopBits:    1,
		TxThreshold: Threshold8,
		RxThreshold: Threshold8,
	}
}

func (c Config) String() string {
	return c.Baud.String() + " " + strconv.Itoa(int(c.DataBits)) + c.Parity.String() +
		strconv.Itoa(int(c.StopBits)) + " tx<=" + strconv.Itoa(int(c.TxThreshold)) +
		" rx>=" + strconv.Itoa(int(c.RxThreshold))
}

// Validate reports the first field that cannot be programmed as a *ConfigError.
func (c Config) Validate() error {
	if !slices.Contains(baudRates, c.Baud) {
		return &ConfigError{Field: "baud", Value: uint32(c.Baud)}
	}
	if c.DataBits != 7 && c.DataBits != 8 {
		return &ConfigError{Field: "data bits", Value: uint32(c.DataBits)}
	}
	if c.Parity > ParityOdd {
		return &ConfigError{Field: "parity", Value: uint32(c.Parity)}
	}
	if c.StopBits != 1 && c.StopBits != 2 {
		return &ConfigError{Field: "stop bits", Value: uint32(c.StopBits)}
	}
	if !validThreshold(c.TxThreshold) {
		return &ConfigError{Field: "tx threshold", Value: uint32(c.TxThreshold)}
	}
	if !validThreshold(c.RxThreshold) {
		return &ConfigError{Field: "rx threshold", Value: uint32(c.RxThreshold)}
	}
	return nil
}

func validThreshold(t Threshold) bool {
	return slices.Contains(thresholds, t) && int(t) <= FIFODepth
}

// encode returns CTRL (enable bits included), BAUD and THRESH register values.
// c must be valid.
func (c Config) encode() (ctrl, baud, thresh uint32) {
	ctrl = CtrlEnable | CtrlTxEnable | CtrlRxEnable
	if c.DataBits == 7 {
		ctrl |= CtrlData7
	}
	switch c.Parity {
	case ParityEven:
		ctrl |= ctrlParityEvenVal << ctrlParityPos
	case ParityOdd:
		ctrl |= ctrlParityOddVal << ctrlParityPos
	}
	if c.StopBits == 2 {
		ctrl |= CtrlStop2
	}
	baud = uint32(slices.Index(baudRates, c.Baud))
	thresh = uint32(c.TxThreshold)<<ThreshTxPos | uint32(c.RxThreshold)<<ThreshRxPos
	return ctrl, baud, thresh
}

// decodeConfig is the inverse of encode for register values read back from
// the device.
func decodeConfig(ctrl, baud, thresh uint32) Config {
	c := Config{DataBits: 8, StopBits: 1}
	if code := int(baud & baudCodeMask); code < len(baudRates) {
		c.Baud = baudRates[code]
	}
	if ctrl&CtrlData7 != 0 {
		c.DataBits = 7
	}
	switch (ctrl >> ctrlParityPos) & ctrlParityMask {
	case ctrlParityEvenVal:
		c.Parity = ParityEven
	case ctrlParityOddVal:
		c.Parity = ParityOdd
	}
	if ctrl&CtrlStop2 != 0 {
		c.StopBits = 2
	}
	c.TxThreshold = Threshold((thresh >> ThreshTxPos) & ThreshMask)
	c.RxThreshold = Threshold((thresh >> ThreshRxPos) & ThreshMask)
	return c
}
