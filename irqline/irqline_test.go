package irqline

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// fakeUIO feeds interrupt counts through a pipe and records re-arm writes.
type fakeUIO struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu     sync.Mutex
	writes bytes.Buffer
}

func newFakeUIO() *fakeUIO {
	r, w := io.Pipe()
	return &fakeUIO{r: r, w: w}
}

func (f *fakeUIO) Read(p []byte) (int, error) { return f.r.Read(p) }

func (f *fakeUIO) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes.Write(p)
}

func (f *fakeUIO) Close() error { return f.r.Close() }

func (f *fakeUIO) raise(count uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], count)
	f.w.Write(b[:])
}

func (f *fakeUIO) arms() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes.Len() / 4
}

func TestUIO_DispatchAndRearm(t *testing.T) {
	dev := newFakeUIO()
	calls := make(chan struct{}, 8)
	u, err := watch(dev, HandlerFunc(func() { calls <- struct{}{} }))
	if err != nil {
		t.Fatal(err)
	}
	if dev.arms() != 1 {
		t.Fatalf("interrupt not enabled at start: %d writes", dev.arms())
	}

	for i := uint32(1); i <= 3; i++ {
		dev.raise(i)
		select {
		case <-calls:
		case <-time.After(5 * time.Second):
			t.Fatalf("interrupt %d not dispatched", i)
		}
	}
	if err := u.Close(); err != nil {
		t.Fatal(err)
	}
	if u.Events() != 3 || u.Count() != 3 {
		t.Fatalf("events %d, count %d", u.Events(), u.Count())
	}
	if dev.arms() != 4 {
		t.Fatalf("re-armed %d times; want 1 + 3", dev.arms())
	}
}

func TestDispatcher_Serialises(t *testing.T) {
	var active, maxActive int
	var mu sync.Mutex
	d := &dispatcher{h: HandlerFunc(func() {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
	})}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.fire()
		}()
	}
	wg.Wait()
	if maxActive != 1 {
		t.Fatalf("handler ran %d at a time", maxActive)
	}
	if d.Events() != 8 {
		t.Fatalf("Events() = %d", d.Events())
	}
}

// fakeLevel reads high for the first high reads, then low.
type fakeLevel struct {
	mu    sync.Mutex
	high  int
	reads int
	err   error
}

func (f *fakeLevel) Value() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.err != nil {
		return 0, f.err
	}
	if f.reads <= f.high {
		return 1, nil
	}
	return 0, nil
}

func TestServiceLevel_RunsUntilLineDrops(t *testing.T) {
	for _, high := range []int{0, 3, maxRetrigger - 1, maxRetrigger + 5} {
		var n int
		d := &dispatcher{h: HandlerFunc(func() { n++ })}
		d.serviceLevel(&fakeLevel{high: high}, make(chan struct{}))
		if n != high+1 {
			t.Fatalf("line high for %d reads: handler ran %d times; want %d", high, n, high+1)
		}
	}
}

func TestServiceLevel_StuckLinePollsUntilStop(t *testing.T) {
	var mu sync.Mutex
	n := 0
	d := &dispatcher{h: HandlerFunc(func() { mu.Lock(); n++; mu.Unlock() })}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		d.serviceLevel(&fakeLevel{high: 1 << 30}, stop)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	runs := n
	mu.Unlock()
	if runs <= maxRetrigger {
		t.Fatalf("handler ran %d times on a stuck line; want polling past %d", runs, maxRetrigger)
	}
	close(stop)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("serviceLevel ignored stop")
	}
}

func TestServiceLevel_ReadErrorEnds(t *testing.T) {
	var n int
	d := &dispatcher{h: HandlerFunc(func() { n++ })}
	d.serviceLevel(&fakeLevel{err: errors.New("line gone")}, make(chan struct{}))
	if n != 1 {
		t.Fatalf("handler ran %d times", n)
	}
}
