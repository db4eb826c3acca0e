// Package irqline connects a host-visible interrupt source to a UART
// interrupt handler. The UART's interrupt output reaches a Linux host either
// on a GPIO line or through a UIO device; either way the handler runs on a
// single goroutine and never re-enters.
package irqline

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

const (
	// maxRetrigger is how many back-to-back runs serviceLevel makes while the
	// line stays asserted before it falls back to polling.
	maxRetrigger = 16
	pollInterval = time.Millisecond
)

// Handler services one interrupt. *rvuart.UART implements it.
type Handler interface {
	HandleInterrupt()
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func()

func (f HandlerFunc) HandleInterrupt() { f() }

// dispatcher serialises calls into h, as a CPU that masks the line while its
// handler runs would.
type dispatcher struct {
	mu     sync.Mutex
	h      Handler
	events atomic.Uint64
}

func (d *dispatcher) fire() {
	d.mu.Lock()
	d.events.Inc()
	d.h.HandleInterrupt()
	d.mu.Unlock()
}

// Events returns the number of handler invocations so far.
func (d *dispatcher) Events() uint64 { return d.events.Load() }

// level reads the state of a level-high interrupt line. *gpiod.Line
// implements it.
type level interface {
	Value() (int, error)
}

// serviceLevel runs the handler until l reads low. Only edges are reported,
// so a line still high after a run would otherwise never be serviced again.
// After maxRetrigger runs it re-checks once per pollInterval. It returns when
// the line drops, cannot be read, or stop is closed.
func (d *dispatcher) serviceLevel(l level, stop <-chan struct{}) {
	for i := 1; ; i++ {
		d.fire()
		if v, err := l.Value(); err != nil || v == 0 {
			return
		}
		if i < maxRetrigger {
			continue
		}
		select {
		case <-stop:
			return
		case <-time.After(pollInterval):
		}
	}
}
