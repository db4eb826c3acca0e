//go:build linux

package irqline

import (
	"github.com/warthog618/gpiod"
)

// GPIO delivers interrupts signalled on a GPIO line wired to the UART's
// interrupt output.
type GPIO struct {
	dispatcher
	chip *gpiod.Chip
	line *gpiod.Line

	lvl   level // set before ready is closed
	ready chan struct{}
	stop  chan struct{}
}

// WatchGPIO requests offset on chip (e.g. "gpiochip0") for rising-edge events
// and calls h for each. The UART output is level-high while an enabled cause
// is pending; because only edges are reported, the handler is re-run for as
// long as the line still reads high after it returns.
func WatchGPIO(chip string, offset int, h Handler) (*GPIO, error) {
	g := newGPIO(h)
	c, err := gpiod.NewChip(chip, gpiod.WithConsumer("rvuart"))
	if err != nil {
		return nil, err
	}
	line, err := c.RequestLine(offset, gpiod.WithEventHandler(g.onRise), gpiod.WithRisingEdge)
	if err != nil {
		close(g.stop)
		c.Close()
		return nil, err
	}
	g.chip, g.line = c, line
	g.start(line)
	return g, nil
}

func newGPIO(h Handler) *GPIO {
	return &GPIO{
		dispatcher: dispatcher{h: h},
		ready:      make(chan struct{}),
		stop:       make(chan struct{}),
	}
}

// start publishes the requested line to the event handler. Events that
// arrive while the request is still returning wait here.
func (g *GPIO) start(l level) {
	g.lvl = l
	close(g.ready)
}

func (g *GPIO) onRise(gpiod.LineEvent) {
	select {
	case <-g.ready:
	case <-g.stop:
		return
	}
	g.serviceLevel(g.lvl, g.stop)
}

// Close stops servicing and releases the line and the chip. Call it once.
func (g *GPIO) Close() error {
	close(g.stop)
	err := g.line.Close()
	if cerr := g.chip.Close(); err == nil {
		err = cerr
	}
	return err
}
