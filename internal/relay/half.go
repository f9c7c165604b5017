package relay

import (
	"net"
	"sync"

	"go.uber.org/atomic"
)

// Half is one side of a pair: a connection plus the queue of bytes waiting
// to be written to it.
type Half struct {
	side Side
	conn net.Conn

	bytesRead    atomic.Int64
	bytesWritten atomic.Int64

	// writable is cleared while the queue is at or above the high-water
	// mark. Only enqueue and release change it, both under mu.
	writable atomic.Bool

	// pendingRead is set by this half's reader while it waits for the
	// partner to become writable. Whoever clears it with a CAS owns the
	// wakeup.
	pendingRead atomic.Bool
	resume      chan struct{}

	mu     sync.Mutex
	queue  [][]byte
	queued int
	eof    bool
	wake   chan struct{}
}

func newHalf(side Side, conn net.Conn) *Half {
	h := &Half{
		side:   side,
		conn:   conn,
		resume: make(chan struct{}, 1),
		wake:   make(chan struct{}, 1),
	}
	h.writable.Store(true)
	return h
}

// Side reports which side of the pair h is.
func (h *Half) Side() Side { return h.side }

// Conn returns the underlying connection.
func (h *Half) Conn() net.Conn { return h.conn }

// Writable reports whether h's queue is below the high-water mark.
func (h *Half) Writable() bool { return h.writable.Load() }

// ReadPending reports whether h's reader is parked waiting for its partner.
func (h *Half) ReadPending() bool { return h.pendingRead.Load() }

// Queued returns the number of bytes queued or being written to h.
func (h *Half) Queued() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.queued
}

// BytesRead returns the number of bytes read from h's connection.
func (h *Half) BytesRead() int64 { return h.bytesRead.Load() }

// BytesWritten returns the number of bytes written to h's connection.
func (h *Half) BytesWritten() int64 { return h.bytesWritten.Load() }

func (h *Half) enqueue(b []byte, highWater int) {
	h.mu.Lock()
	h.queue = append(h.queue, b)
	h.queued += len(b)
	if h.queued >= highWater {
		h.writable.Store(false)
	}
	h.mu.Unlock()
	h.signal()
}

// enqueueEOF asks the writer to shut down the write side once the queue
// has drained.
func (h *Half) enqueueEOF() {
	h.mu.Lock()
	h.eof = true
	h.mu.Unlock()
	h.signal()
}

func (h *Half) signal() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// take removes everything queued. The bytes still count against the
// high-water mark until release is called.
func (h *Half) take() ([][]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	q := h.queue
	h.queue = nil
	return q, h.eof
}

// release accounts for n written bytes and, on the transition back to
// writable, resumes the partner's reader if it is parked.
func (h *Half) release(n, lowWater int, partner *Half) {
	h.mu.Lock()
	h.queued -= n
	resume := !h.writable.Load() && h.queued <= lowWater
	if resume {
		h.writable.Store(true)
	}
	h.mu.Unlock()

	if resume && partner.pendingRead.CompareAndSwap(true, false) {
		select {
		case partner.resume <- struct{}{}:
		default:
		}
	}
}

// waitWritable blocks h's reader until partner can take more data. It
// returns false if done closes first.
func (h *Half) waitWritable(partner *Half, done <-chan struct{}) bool {
	for !partner.writable.Load() {
		h.pendingRead.Store(true)
		if partner.writable.Load() && h.pendingRead.CompareAndSwap(true, false) {
			break
		}
		select {
		case <-h.resume:
		case <-done:
			return false
		}
	}
	return true
}

func closeWrite(c net.Conn) bool {
	cw, ok := c.(interface{ CloseWrite() error })
	if !ok {
		return false
	}
	_ = cw.CloseWrite()
	return true
}
