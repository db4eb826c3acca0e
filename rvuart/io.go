// rvuart/io.go

package rvuart

import "time"

// TryPutByte writes b to the TX FIFO if it has room. When the FIFO is full it
// returns ErrWouldBlock and touches nothing.
func (u *UART) TryPutByte(b byte) error {
	if u.Status().TxFull {
		return ErrWouldBlock
	}
	u.regs.Write(RegData, uint32(b))
	return nil
}

// TryGetByte pops one byte from the RX FIFO. When the FIFO is empty it
// returns ErrNoData and touches nothing.
func (u *UART) TryGetByte() (byte, error) {
	if u.Status().RxEmpty {
		return 0, ErrNoData
	}
	return byte(u.regs.Read(RegData) & dataMask), nil
}

// PutByte spins until the TX FIFO has room, then writes b. A zero timeout
// waits forever; otherwise ErrTimeout is returned once timeout has elapsed.
func (u *UART) PutByte(b byte, timeout time.Duration) error {
	return u.putUntil(b, u.deadline(timeout))
}

// GetByte spins until the RX FIFO holds a byte and returns it. A zero timeout
// waits forever; otherwise ErrTimeout is returned once timeout has elapsed.
func (u *UART) GetByte(timeout time.Duration) (byte, error) {
	return u.getUntil(u.deadline(timeout))
}

// Write implements io.Writer. It blocks until every byte of p has been accepted,
// in order, and always returns len(p), nil. Accepted means pushed into the TX
// FIFO, or queued in the TX ring when one is set (see SetTxRing). It does not
// wait for the FIFO to drain; use Flush for that.
func (u *UART) Write(p []byte) (int, error) {
	return u.WriteTimeout(p, 0)
}

// WriteString writes s like Write.
func (u *UART) WriteString(s string) (int, error) {
	return u.Write([]byte(s))
}

// WriteByte writes a single byte like Write.
func (u *UART) WriteByte(c byte) error {
	_, err := u.Write([]byte{c})
	return err
}

// WriteTimeout is Write bounded by one deadline for the whole buffer. On
// expiry it returns the count already pushed and an *OpError wrapping
// ErrTimeout.
func (u *UART) WriteTimeout(p []byte, timeout time.Duration) (int, error) {
	dl := u.deadline(timeout)
	if rb := u.txRing.Load(); rb != nil {
		return u.writeRing(rb, p, dl)
	}
	for i, b := range p {
		if err := u.putUntil(b, dl); err != nil {
			return i, &OpError{Op: "write", N: i, Err: err}
		}
	}
	return len(p), nil
}

// Writev writes the provided buffers in sequence with the same blocking behaviour as Write.
// It stops on the first error and returns the total number of bytes accepted up to that point.
func (u *UART) Writev(bufs ...[]byte) (int, error) {
	sent := 0
	for _, p := range bufs {
		n, err := u.Write(p)
		sent += n
		if err != nil {
			return sent, err
		}
	}
	return sent, nil
}

// Read implements io.Reader. Unlike most readers it fills p completely,
// blocking until len(p) bytes have arrived.
func (u *UART) Read(p []byte) (int, error) {
	return u.ReadTimeout(p, 0)
}

// ReadTimeout fills p like Read, bounded by one deadline for the whole
// buffer. On expiry it returns the count already read and an *OpError
// wrapping ErrTimeout.
func (u *UART) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	dl := u.deadline(timeout)
	for i := range p {
		b, err := u.getUntil(dl)
		if err != nil {
			return i, &OpError{Op: "read", N: i, Err: err}
		}
		p[i] = b
	}
	return len(p), nil
}

// ReadLine reads until '\r' or '\n' or until len(buf)-1 bytes are stored. The
// terminator is consumed but not stored, buf[n] is always set to 0, and n is
// the number of bytes before it. A CRLF pair therefore yields an empty second
// line. An empty buf returns 0, nil without reading.
func (u *UART) ReadLine(buf []byte, timeout time.Duration) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	dl := u.deadline(timeout)
	n := 0
	for n < len(buf)-1 {
		b, err := u.getUntil(dl)
		if err != nil {
			buf[n] = 0
			return n, &OpError{Op: "readline", N: n, Err: err}
		}
		if b == '\r' || b == '\n' {
			break
		}
		buf[n] = b
		n++
	}
	buf[n] = 0
	return n, nil
}

// WaitTxComplete spins until the TX ring (if any) and the TX FIFO are empty
// and the transmitter is idle, i.e. every byte is on the wire. A zero timeout
// waits forever.
func (u *UART) WaitTxComplete(timeout time.Duration) error {
	dl := u.deadline(timeout)
	rb := u.txRing.Load()
	for {
		s := u.Status()
		queued := rb != nil && rb.Len() > 0
		if !queued && s.TxEmpty && s.TxIdle {
			return nil
		}
		if queued && u.needsStart(rb, s) {
			u.StartTx(rb)
		}
		if dl.expired() {
			u.stats.timeouts.Inc()
			return &OpError{Op: "drain", Err: ErrTimeout}
		}
	}
}

// Flush blocks until all written bytes have left the UART.
func (u *UART) Flush() error { return u.WaitTxComplete(0) }

// ------------------------------- Internals --------------------------------

// spinDeadline bounds a busy-spin loop. A zero value never expires.
type spinDeadline struct {
	clock Clock
	at    time.Time
	set   bool
}

func (u *UART) deadline(timeout time.Duration) spinDeadline {
	if timeout <= 0 {
		return spinDeadline{}
	}
	return spinDeadline{clock: u.clock, at: u.clock.Now().Add(timeout), set: true}
}

func (d spinDeadline) expired() bool {
	return d.set && !d.clock.Now().Before(d.at)
}

func (u *UART) putUntil(b byte, dl spinDeadline) error {
	for {
		if err := u.TryPutByte(b); err == nil {
			return nil
		}
		if dl.expired() {
			u.stats.timeouts.Inc()
			return ErrTimeout
		}
	}
}

// writeRing queues p into rb. The handler only runs when the TX level falls
// through the threshold, so whenever the level is already at or below it, or
// the cause was masked by an empty ring, queued bytes are started here.
func (u *UART) writeRing(rb *RingBuffer, p []byte, dl spinDeadline) (int, error) {
	sent := 0
	for {
		sent += rb.TryWrite(p[sent:])
		if u.needsStart(rb, u.Status()) {
			u.StartTx(rb)
		}
		if sent == len(p) {
			return sent, nil
		}
		if dl.expired() {
			u.stats.timeouts.Inc()
			return sent, &OpError{Op: "write", N: sent, Err: ErrTimeout}
		}
	}
}

func (u *UART) getUntil(dl spinDeadline) (byte, error) {
	for {
		if b, err := u.TryGetByte(); err == nil {
			return b, nil
		}
		if dl.expired() {
			u.stats.timeouts.Inc()
			return 0, ErrTimeout
		}
	}
}
