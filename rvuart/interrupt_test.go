package rvuart_test

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/jangala-dev/tinygo-rvuart/rvuart"
	"github.com/jangala-dev/tinygo-rvuart/rvuart/uartsim"
)

func rxConfig(thr rvuart.Threshold) rvuart.Config {
	c := rvuart.DefaultConfig()
	c.RxThreshold = thr
	return c
}

func mustRing(t *testing.T, size int) *rvuart.RingBuffer {
	t.Helper()
	rb, err := rvuart.NewRingBuffer(size)
	if err != nil {
		t.Fatal(err)
	}
	return rb
}

func TestEnableInterrupts_RejectsUnknownBits(t *testing.T) {
	dev := uartsim.New()
	u := mustOpen(t, dev, rvuart.DefaultConfig())
	if err := u.EnableInterrupts(rvuart.IRQRxThreshold | 1<<7); !errors.Is(err, rvuart.ErrInvalidConfig) {
		t.Fatalf("EnableInterrupts = %v; want ErrInvalidConfig", err)
	}
	if got := u.Interrupts(); got != 0 {
		t.Fatalf("Interrupts() = %v after rejected mask", got)
	}
	if err := u.EnableInterrupts(rvuart.IRQAll); err != nil {
		t.Fatal(err)
	}
	if got := u.Interrupts(); got != rvuart.IRQAll {
		t.Fatalf("Interrupts() = %v", got)
	}
	u.DisableInterrupts()
	if got := u.Interrupts(); got != 0 {
		t.Fatalf("Interrupts() = %v after DisableInterrupts", got)
	}
}

func TestHandleInterrupt_RxIntoRing(t *testing.T) {
	dev := uartsim.New()
	u := mustOpen(t, dev, rxConfig(rvuart.Threshold1))
	rb := mustRing(t, 64)
	u.SetCallbacks(rvuart.Callbacks{RX: u.RingSink(rb)})
	dev.Attach(u.HandleInterrupt)
	if err := u.EnableInterrupts(rvuart.IRQRxThreshold | rvuart.IRQRxFull); err != nil {
		t.Fatal(err)
	}

	dev.Inject([]byte("interrupt")...)

	got := make([]byte, 32)
	n := rb.TryRead(got)
	if string(got[:n]) != "interrupt" {
		t.Fatalf("ring holds %q", got[:n])
	}
	if !u.RxFifoEmpty() {
		t.Fatal("RX FIFO not drained by the handler")
	}
	st := u.Stats()
	if st.RxBytes != 9 || st.ISRCount != 9 || st.RingMaxLen != 9 {
		t.Fatalf("stats %+v", st)
	}
}

// At RX threshold 8 the handler runs once per eight bytes and drains all of
// them in a batch.
func TestHandleInterrupt_RxBatchAtThreshold(t *testing.T) {
	dev := uartsim.New()
	u := mustOpen(t, dev, rxConfig(rvuart.Threshold8))
	rb := mustRing(t, 64)
	u.SetCallbacks(rvuart.Callbacks{RX: u.RingSink(rb)})
	dev.Attach(u.HandleInterrupt)
	if err := u.EnableInterrupts(rvuart.IRQRxThreshold); err != nil {
		t.Fatal(err)
	}

	dev.Inject(pattern(7)...)
	if rb.Len() != 0 || dev.Deliveries() != 0 {
		t.Fatalf("handler ran below threshold: ring=%d deliveries=%d", rb.Len(), dev.Deliveries())
	}
	dev.Inject(pattern(24)[7:]...)
	if rb.Len() != 24 {
		t.Fatalf("ring holds %d; want 24", rb.Len())
	}
	if got := dev.Deliveries(); got != 3 {
		t.Fatalf("deliveries = %d; want 3", got)
	}
	if got := u.Stats().RingMaxLen; got != 24 {
		t.Fatalf("RingMaxLen = %d", got)
	}
}

func TestRingSink_DropsNewestAndLatchesOverflow(t *testing.T) {
	dev := uartsim.New()
	u := mustOpen(t, dev, rxConfig(rvuart.Threshold1))
	rb := mustRing(t, 8)
	u.SetCallbacks(rvuart.Callbacks{RX: u.RingSink(rb)})
	dev.Attach(u.HandleInterrupt)
	if err := u.EnableInterrupts(rvuart.IRQRxThreshold); err != nil {
		t.Fatal(err)
	}

	dev.Inject([]byte("0123456789")...)

	got := make([]byte, 16)
	if n := rb.TryRead(got); string(got[:n]) != "0123456" {
		t.Fatalf("ring holds %q; want the oldest 7 bytes", got[:n])
	}
	if got := u.Stats().RxDropped; got != 3 {
		t.Fatalf("RxDropped = %d", got)
	}
	e, ok := u.GetErrors()
	if !ok || !e.RxOverflow || e.Parity || e.Frame || e.TxOverflow {
		t.Fatalf("GetErrors = %v, %v", e, ok)
	}
	if e, ok := u.GetErrors(); ok {
		t.Fatalf("second GetErrors = %v; want nothing pending", e)
	}
}

// Random interleavings of arrivals and consumption match a model queue that
// drops the newest byte when full.
func TestRingSink_InterleavedAgainstModel(t *testing.T) {
	dev := uartsim.New()
	u := mustOpen(t, dev, rxConfig(rvuart.Threshold1))
	rb := mustRing(t, 8)
	u.SetCallbacks(rvuart.Callbacks{RX: u.RingSink(rb)})
	dev.Attach(u.HandleInterrupt)
	if err := u.EnableInterrupts(rvuart.IRQRxThreshold | rvuart.IRQRxFull); err != nil {
		t.Fatal(err)
	}

	r := rand.New(rand.NewSource(1))
	var model []byte
	var next byte
	dropped := 0
	for step := 0; step < 2000; step++ {
		if r.Intn(2) == 0 {
			for k := 1 + r.Intn(5); k > 0; k-- {
				dev.Inject(next)
				if len(model) < rb.Cap()-1 {
					model = append(model, next)
				} else {
					dropped++
				}
				next++
			}
			continue
		}
		for m := r.Intn(6); m > 0; m-- {
			b, ok := rb.Get()
			if len(model) == 0 {
				if ok {
					t.Fatalf("step %d: got %d from a ring the model says is empty", step, b)
				}
				break
			}
			if !ok || b != model[0] {
				t.Fatalf("step %d: got %d,%v; want %d", step, b, ok, model[0])
			}
			model = model[1:]
		}
	}
	if dropped == 0 {
		t.Fatal("sequence never filled the ring")
	}
	if got := u.Stats().RxDropped; int(got) != dropped {
		t.Fatalf("RxDropped = %d; model dropped %d", got, dropped)
	}
	if e, _ := u.GetErrors(); !e.RxOverflow {
		t.Fatal("RxOverflow not latched")
	}
}

// The handler (producer) runs on the injecting goroutine while the test
// goroutine consumes.
func TestRingSink_ConcurrentConsumer(t *testing.T) {
	const total = 20000
	dev := uartsim.New()
	u := mustOpen(t, dev, rxConfig(rvuart.Threshold1))
	rb := mustRing(t, 1<<15)
	u.SetCallbacks(rvuart.Callbacks{RX: u.RingSink(rb)})
	dev.Attach(u.HandleInterrupt)
	if err := u.EnableInterrupts(rvuart.IRQRxThreshold); err != nil {
		t.Fatal(err)
	}

	data := pattern(total)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, b := range data {
			dev.Inject(b)
		}
	}()

	got := make([]byte, 0, total)
	deadline := time.Now().Add(10 * time.Second)
	for len(got) < total {
		if b, ok := rb.Get(); ok {
			got = append(got, b)
			continue
		}
		if time.Now().After(deadline) {
			t.Fatalf("received %d of %d", len(got), total)
		}
	}
	<-done
	if !bytes.Equal(got, data) {
		t.Fatal("received bytes differ from sent bytes")
	}
	if st := u.Stats(); st.RxDropped != 0 || st.RxBytes != total {
		t.Fatalf("stats %+v", st)
	}
}

func TestHandleInterrupt_NoRxCallbackLeavesFIFO(t *testing.T) {
	dev := uartsim.New()
	u := mustOpen(t, dev, rxConfig(rvuart.Threshold1))
	dev.Attach(u.HandleInterrupt)
	if err := u.EnableInterrupts(rvuart.IRQRxThreshold); err != nil {
		t.Fatal(err)
	}
	dev.Inject('x')
	if dev.Deliveries() != 1 {
		t.Fatalf("deliveries = %d", dev.Deliveries())
	}
	if b, err := u.TryGetByte(); err != nil || b != 'x' {
		t.Fatalf("TryGetByte = %q, %v", b, err)
	}
}

func TestHandleInterrupt_ErrorCallbackAndLatch(t *testing.T) {
	dev := uartsim.New()
	u := mustOpen(t, dev, rvuart.DefaultConfig())
	var seen []rvuart.Errors
	u.SetCallbacks(rvuart.Callbacks{Error: func(e rvuart.Errors) { seen = append(seen, e) }})
	dev.Attach(u.HandleInterrupt)
	if err := u.EnableInterrupts(rvuart.IRQError); err != nil {
		t.Fatal(err)
	}

	dev.InjectError(rvuart.ErrBitParity | rvuart.ErrBitFrame)

	if len(seen) != 1 || !seen[0].Parity || !seen[0].Frame || seen[0].RxOverflow {
		t.Fatalf("error callback saw %v", seen)
	}
	if s := dev.Snapshot(); s.Err != 0 || s.IRQPend != 0 {
		t.Fatalf("ERR/IRQ_PEND not acknowledged: %+v", s)
	}
	e, ok := u.GetErrors()
	if !ok || !e.Parity || !e.Frame {
		t.Fatalf("GetErrors = %v, %v", e, ok)
	}
	if e, ok := u.GetErrors(); ok {
		t.Fatalf("second GetErrors = %v", e)
	}
	if got := u.Stats().ErrorIRQs; got != 1 {
		t.Fatalf("ErrorIRQs = %d", got)
	}
}

func TestGetErrors_PollsHardwareWhenErrorIRQMasked(t *testing.T) {
	dev := uartsim.New()
	u := mustOpen(t, dev, rvuart.DefaultConfig())
	dev.InjectError(rvuart.ErrBitTxOverflow)

	e, ok := u.GetErrors()
	if !ok || !e.TxOverflow || e.String() != "tx-overflow" {
		t.Fatalf("GetErrors = %v, %v", e, ok)
	}
	if dev.Snapshot().Err != 0 {
		t.Fatal("ERR not cleared by GetErrors")
	}
	if _, ok := u.GetErrors(); ok {
		t.Fatal("error reported twice")
	}
}

func TestCallbacksOnlyRunInHandler(t *testing.T) {
	dev := uartsim.New()
	u := mustOpen(t, dev, rxConfig(rvuart.Threshold8))
	calls := 0
	u.SetCallbacks(rvuart.Callbacks{RX: func(byte) { calls++ }})

	// Nothing enabled: the handler finds no active cause.
	u.HandleInterrupt()
	dev.Inject(pattern(8)...)
	u.HandleInterrupt()
	if st := u.Stats(); st.Spurious != 2 || st.ISRCount != 0 || calls != 0 {
		t.Fatalf("stats %+v calls %d", st, calls)
	}
	if dev.Snapshot().IRQPend&uint32(rvuart.IRQRxThreshold) == 0 {
		t.Fatal("masked cause was not left pending")
	}

	// Polling never calls back.
	if _, err := u.GetByte(0); err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Fatalf("GetByte invoked the RX callback %d times", calls)
	}

	if err := u.EnableInterrupts(rvuart.IRQRxThreshold); err != nil {
		t.Fatal(err)
	}
	u.HandleInterrupt()
	if calls != 7 {
		t.Fatalf("handler delivered %d bytes; want 7", calls)
	}
}

func TestHandleInterrupt_TxCallbackRefill(t *testing.T) {
	dev := uartsim.New()
	cfg := rvuart.DefaultConfig()
	cfg.TxThreshold = rvuart.Threshold4
	u := mustOpen(t, dev, cfg)

	src := pattern(200)
	i := 0
	refill := func(u *rvuart.UART) {
		for i < len(src) {
			if u.TryPutByte(src[i]) != nil {
				return
			}
			i++
		}
	}
	u.SetCallbacks(rvuart.Callbacks{TX: refill})
	dev.Attach(u.HandleInterrupt)

	refill(u)
	if err := u.EnableInterrupts(rvuart.IRQTxThreshold); err != nil {
		t.Fatal(err)
	}
	for i < len(src) {
		_ = u.Status()
		if dev.Cycles() > 1_000_000 {
			t.Fatalf("stalled with %d of %d queued", i, len(src))
		}
	}
	if err := u.Flush(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dev.Wire(), src) {
		t.Fatal("wire differs from source")
	}
	if u.Stats().TxRefills == 0 {
		t.Fatal("TX callback never ran")
	}
}

// A 1024-byte message at 921600 8N1 with both thresholds at 8, sent through a
// 256-byte TX ring: the handler refills the FIFO many times and every byte
// reaches the wire in order.
func TestWrite_InterruptDrivenLongMessage(t *testing.T) {
	dev := uartsim.New(uartsim.WithCyclesPerByte(64))
	cfg := rvuart.Config{
		Baud: rvuart.Baud921600, DataBits: 8, Parity: rvuart.ParityNone, StopBits: 1,
		TxThreshold: rvuart.Threshold8, RxThreshold: rvuart.Threshold8,
	}
	u := mustOpen(t, dev, cfg)
	dev.Attach(u.HandleInterrupt)
	u.SetTxRing(mustRing(t, 256))
	if err := u.EnableInterrupts(rvuart.IRQTxThreshold); err != nil {
		t.Fatal(err)
	}

	msg := make([]byte, 1024)
	for i := range msg {
		msg[i] = byte(i)
	}
	n, err := u.Write(msg)
	if err != nil || n != len(msg) {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if err := u.Flush(); err != nil {
		t.Fatal(err)
	}

	if got := dev.Wire(); !bytes.Equal(got, msg) {
		t.Fatalf("wire mismatch: %d bytes", len(got))
	}
	st := u.Stats()
	if st.ISRCount < 64 || dev.Deliveries() < 64 {
		t.Fatalf("only %d handler runs (%d deliveries)", st.ISRCount, dev.Deliveries())
	}
	if st.TxBytes != uint32(len(msg)) {
		t.Fatalf("TxBytes = %d", st.TxBytes)
	}
	if e, ok := u.GetErrors(); ok {
		t.Fatalf("errors after transfer: %v", e)
	}
}

// Once the ring is drained the TX threshold cause is masked; detaching the
// ring puts the mask bit back as it was before the ring was attached.
func TestSetTxRing_MasksWhenDrainedAndRestores(t *testing.T) {
	for _, before := range []rvuart.IRQ{rvuart.IRQError, rvuart.IRQError | rvuart.IRQTxThreshold} {
		dev := uartsim.New(uartsim.WithCyclesPerByte(8))
		u := mustOpen(t, dev, rvuart.DefaultConfig())
		dev.Attach(u.HandleInterrupt)
		if err := u.EnableInterrupts(before); err != nil {
			t.Fatal(err)
		}
		rb := mustRing(t, 64)
		u.SetTxRing(rb)

		msg := pattern(40)
		if n, err := u.Write(msg); err != nil || n != len(msg) {
			t.Fatalf("Write = %d, %v", n, err)
		}
		if err := u.Flush(); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(dev.Wire(), msg) {
			t.Fatalf("wire %x", dev.Wire())
		}
		if rb.Len() != 0 {
			t.Fatalf("ring holds %d bytes after Flush", rb.Len())
		}
		if got := u.Interrupts(); got != rvuart.IRQError {
			t.Fatalf("enabled %v with an empty TX ring; want error", got)
		}

		u.SetTxRing(nil)
		if got := u.Interrupts(); got != before {
			t.Fatalf("after detaching: %v; want %v", got, before)
		}
	}
}

// A second Write after the ring drained (cause masked) must still go out.
func TestSetTxRing_RestartsAfterDrain(t *testing.T) {
	dev := uartsim.New(uartsim.WithCyclesPerByte(4))
	u := mustOpen(t, dev, rvuart.DefaultConfig())
	dev.Attach(u.HandleInterrupt)
	u.SetTxRing(mustRing(t, 32))

	first, second := pattern(50), []byte("second burst of bytes, longer than a FIFO")
	for _, p := range [][]byte{first, second} {
		if _, err := u.Write(p); err != nil {
			t.Fatal(err)
		}
		if err := u.Flush(); err != nil {
			t.Fatal(err)
		}
		if u.Interrupts()&rvuart.IRQTxThreshold != 0 {
			t.Fatal("TX threshold left enabled after drain")
		}
	}
	if want := append(append([]byte(nil), first...), second...); !bytes.Equal(dev.Wire(), want) {
		t.Fatalf("wire %q", dev.Wire())
	}
	if u.Stats().TxBytes != uint32(len(first)+len(second)) {
		t.Fatalf("TxBytes = %d", u.Stats().TxBytes)
	}
}

func TestRingSource_FeedsFIFOAndMasksWhenEmpty(t *testing.T) {
	dev := uartsim.New(uartsim.WithCyclesPerByte(8))
	cfg := rvuart.DefaultConfig()
	cfg.TxThreshold = rvuart.Threshold4
	u := mustOpen(t, dev, cfg)
	rb := mustRing(t, 128)
	u.SetCallbacks(rvuart.Callbacks{TX: u.RingSource(rb)})
	dev.Attach(u.HandleInterrupt)

	msg := pattern(100)
	if n := rb.TryWrite(msg); n != len(msg) {
		t.Fatalf("queued %d", n)
	}
	u.StartTx(rb)
	if u.Interrupts()&rvuart.IRQTxThreshold == 0 {
		t.Fatal("StartTx left the TX threshold masked with bytes queued")
	}
	for rb.Len() > 0 {
		_ = u.Status()
		if dev.Cycles() > 1_000_000 {
			t.Fatalf("stalled with %d queued", rb.Len())
		}
	}
	if err := u.Flush(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dev.Wire(), msg) {
		t.Fatal("wire differs from source")
	}
	if u.Interrupts()&rvuart.IRQTxThreshold != 0 {
		t.Fatal("TX threshold still enabled with an empty ring")
	}
	if u.Stats().TxRefills == 0 {
		t.Fatal("handler never refilled from the ring")
	}
}

func TestHandleInterrupt_ErrorCauseWithClearERR(t *testing.T) {
	dev := uartsim.New()
	u := mustOpen(t, dev, rvuart.DefaultConfig())
	calls := 0
	u.SetCallbacks(rvuart.Callbacks{Error: func(rvuart.Errors) { calls++ }})
	if err := u.EnableInterrupts(rvuart.IRQError); err != nil {
		t.Fatal(err)
	}
	dev.InjectError(rvuart.ErrBitFrame)
	dev.Write(rvuart.RegErr, rvuart.ErrBitFrame)

	u.HandleInterrupt()
	if calls != 0 {
		t.Fatalf("error callback ran %d times with ERR clear", calls)
	}
	if got := u.Stats().ErrorIRQs; got != 1 {
		t.Fatalf("ErrorIRQs = %d", got)
	}
	if _, ok := u.GetErrors(); ok {
		t.Fatal("errors reported with ERR clear")
	}
}

func TestConfigure_MasksInterrupts(t *testing.T) {
	dev := uartsim.New()
	u := mustOpen(t, dev, rvuart.DefaultConfig())
	if err := u.EnableInterrupts(rvuart.IRQAll); err != nil {
		t.Fatal(err)
	}
	if err := u.Configure(rxConfig(rvuart.Threshold4)); err != nil {
		t.Fatal(err)
	}
	if got := u.Interrupts(); got != 0 {
		t.Fatalf("Interrupts() = %v after Configure", got)
	}
}

func TestIRQString(t *testing.T) {
	cases := []struct {
		m    rvuart.IRQ
		want string
	}{
		{0, "none"},
		{rvuart.IRQRxThreshold, "rx-threshold"},
		{rvuart.IRQTxThreshold | rvuart.IRQError, "tx-threshold|error"},
		{rvuart.IRQAll, "rx-threshold|rx-full|tx-threshold|error"},
		{rvuart.IRQRxFull | 1<<9, "rx-full|unknown"},
	}
	for _, tc := range cases {
		if got := tc.m.String(); got != tc.want {
			t.Fatalf("IRQ(0x%x).String() = %q; want %q", uint32(tc.m), got, tc.want)
		}
	}
}
