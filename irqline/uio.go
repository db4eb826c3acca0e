package irqline

import (
	"encoding/binary"
	"io"
	"os"
	"time"

	"go.uber.org/atomic"
)

// UIO delivers interrupts from a Linux UIO device. Each read of the device
// blocks until the next interrupt and returns the running count; writing 1
// re-enables the interrupt, which the kernel masks before waking the reader.
type UIO struct {
	dispatcher
	dev  io.ReadWriteCloser
	last atomic.Uint32
	done chan struct{}
}

// WatchUIO opens path (e.g. "/dev/uio0"), enables its interrupt and calls h
// for every interrupt until Close.
func WatchUIO(path string, h Handler) (*UIO, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0660)
	if err != nil {
		return nil, err
	}
	u, err := watch(f, h)
	if err != nil {
		f.Close()
		return nil, err
	}
	return u, nil
}

func watch(dev io.ReadWriteCloser, h Handler) (*UIO, error) {
	u := &UIO{dispatcher: dispatcher{h: h}, dev: dev, done: make(chan struct{})}
	if err := u.arm(); err != nil {
		return nil, err
	}
	go u.reader()
	return u, nil
}

func (u *UIO) arm() error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], 1)
	_, err := u.dev.Write(b[:])
	return err
}

func (u *UIO) reader() {
	defer close(u.done)
	b := make([]byte, 4)
	for {
		if _, err := io.ReadFull(u.dev, b); err != nil {
			return
		}
		u.last.Store(binary.LittleEndian.Uint32(b))
		u.fire()
		if err := u.arm(); err != nil {
			return
		}
	}
}

// Count returns the kernel's interrupt count from the last read.
func (u *UIO) Count() uint32 { return u.last.Load() }

// closeWait bounds how long Close waits for the reader. A read blocked in the
// kernel on a character device is not always woken by close.
const closeWait = time.Second

// Close closes the device and waits for the reader to stop.
func (u *UIO) Close() error {
	err := u.dev.Close()
	select {
	case <-u.done:
	case <-time.After(closeWait):
	}
	return err
}
