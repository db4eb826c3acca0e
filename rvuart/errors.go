// rvuart/errors.go

package rvuart

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is returned for setup parameters outside the supported
	// enumerations. No register has been touched when it is returned.
	ErrInvalidConfig = errors.New("invalid UART configuration")
	// ErrTimeout is returned by a blocking call whose deadline expired.
	ErrTimeout = errors.New("UART timeout")
	// ErrWouldBlock means the TX FIFO is full right now.
	ErrWouldBlock = errors.New("UART TX FIFO full")
	// ErrNoData means the RX FIFO is empty right now.
	ErrNoData = errors.New("UART RX FIFO empty")
)

// ConfigError names the rejected configuration field.
type ConfigError struct {
	Field string
	Value uint32
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%v: %s %d", ErrInvalidConfig, e.Field, e.Value)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// OpError reports a failed blocking transfer together with the number of bytes
// moved before the failure.
type OpError struct {
	Op  string // "write", "read", "readline", "drain"
	N   int    // bytes transferred before Err
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("uart %s after %d bytes: %v", e.Op, e.N, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is, or wraps, ErrTimeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// IsWouldBlock reports whether err is a non-blocking "try again" signal
// (ErrWouldBlock or ErrNoData).
func IsWouldBlock(err error) bool {
	return errors.Is(err, ErrWouldBlock) || errors.Is(err, ErrNoData)
}
