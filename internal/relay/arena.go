package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/socksrelay/internal/aead"
)

var (
	// ErrUnknownPair is returned for ids that were never opened or that
	// have already been closed.
	ErrUnknownPair = errors.New("relay: unknown pair")

	// ErrRunning is returned by Run when the pair is already running.
	ErrRunning = errors.New("relay: pair already running")
)

// PairID addresses a pair in an Arena. Ids are never reused: closing a pair
// bumps the generation of its slot. The zero PairID is never valid.
type PairID struct {
	index uint32
	gen   uint32
}

func (id PairID) String() string {
	return fmt.Sprintf("%d.%d", id.index, id.gen)
}

type slot struct {
	gen     uint32
	halves  [2]*Half
	opts    Options
	done    chan struct{}
	running bool
}

// Arena owns every live pair. It is safe for concurrent use.
type Arena struct {
	mu    sync.Mutex
	slots []slot
	free  []uint32
	live  int

	pools sync.Map // buffer size -> *bufferPool
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// Open registers local and peer as a pair. Ownership of both connections
// passes to the arena.
func (a *Arena) Open(local, peer net.Conn, opts Options) PairID {
	opts = opts.withDefaults()

	a.mu.Lock()
	defer a.mu.Unlock()

	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, slot{gen: 1})
	}

	s := &a.slots[idx]
	s.halves = [2]*Half{newHalf(Local, local), newHalf(Peer, peer)}
	s.opts = opts
	s.done = make(chan struct{})
	s.running = false
	a.live++

	return PairID{index: idx, gen: s.gen}
}

// lookup must be called with a.mu held.
func (a *Arena) lookup(id PairID) *slot {
	if int(id.index) >= len(a.slots) {
		return nil
	}
	s := &a.slots[id.index]
	if s.gen != id.gen || s.done == nil {
		return nil
	}
	return s
}

// Half returns one half of a live pair, or nil if id is stale.
func (a *Arena) Half(id PairID, side Side) *Half {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.lookup(id)
	if s == nil {
		return nil
	}
	return s.halves[side]
}

// Len returns the number of live pairs.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}

// Close unlinks both halves of the pair and then closes their connections.
// It reports whether id was live; closing a stale id does nothing.
func (a *Arena) Close(id PairID) bool {
	a.mu.Lock()
	s := a.lookup(id)
	if s == nil {
		a.mu.Unlock()
		return false
	}
	halves, done := s.halves, s.done
	s.halves = [2]*Half{}
	s.done = nil
	s.running = false
	s.opts = Options{}
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	a.free = append(a.free, id.index)
	a.live--
	a.mu.Unlock()

	close(done)
	for _, h := range halves {
		_ = h.conn.Close()
	}
	return true
}

// Run moves bytes in both directions until both have finished or the pair
// fails, then closes the pair. Canceling ctx closes the pair. The returned
// error is the first failure that caused the pair to close; EOF on either
// side is not a failure.
func (a *Arena) Run(ctx context.Context, id PairID) error {
	a.mu.Lock()
	s := a.lookup(id)
	if s == nil {
		a.mu.Unlock()
		return ErrUnknownPair
	}
	if s.running {
		a.mu.Unlock()
		return ErrRunning
	}
	s.running = true
	local, peer, opts, done := s.halves[Local], s.halves[Peer], s.opts, s.done
	a.mu.Unlock()

	defer a.Close(id)
	stop := context.AfterFunc(ctx, func() { a.Close(id) })
	defer stop()

	pool := a.pool(opts.BufferSize)

	halves := [2]*Half{local, peer}
	g := errgroup.Group{}
	for _, h := range halves {
		partner := halves[h.side.Other()]
		g.Go(func() error { return a.pump(id, h, partner, opts, pool, done) })
		g.Go(func() error { return a.flush(id, h, partner, opts, pool, done) })
	}
	err := g.Wait()

	level := zap.DebugLevel
	if aead.IsCryptoError(err) {
		level = zap.WarnLevel
	}
	if ce := opts.Logger.Check(level, "relay finished"); ce != nil {
		ce.Write(
			zap.Stringer("pair", id),
			zap.Int64("local_to_peer", peer.BytesWritten()),
			zap.Int64("peer_to_local", local.BytesWritten()),
			zap.Error(err),
		)
	}
	return err
}

// Relay opens a pair, runs it and closes it.
func (a *Arena) Relay(ctx context.Context, local, peer net.Conn, opts Options) error {
	return a.Run(ctx, a.Open(local, peer, opts))
}

func (a *Arena) pool(size int) *bufferPool {
	if p, ok := a.pools.Load(size); ok {
		return p.(*bufferPool)
	}
	p, _ := a.pools.LoadOrStore(size, newBufferPool(size))
	return p.(*bufferPool)
}

// pump reads from src and queues what it read on dst.
func (a *Arena) pump(id PairID, src, dst *Half, opts Options, pool *bufferPool, done <-chan struct{}) error {
	xform := opts.transformFor(src.side)

	for {
		if !src.waitWritable(dst, done) {
			return nil
		}

		buf := pool.Get()
		n, rerr := src.conn.Read(buf)
		if n > 0 {
			src.bytesRead.Add(int64(n))
			out := buf[:n]
			if xform != nil {
				var terr error
				out, terr = xform(pool.Get()[:0], buf[:n])
				pool.Put(buf)
				if terr != nil {
					pool.Put(out)
					return a.fail(id, done, fmt.Errorf("%s read: %w", src.side, terr))
				}
			}
			if len(out) > 0 {
				dst.enqueue(out, opts.HighWater)
			} else {
				pool.Put(out)
			}
		} else {
			pool.Put(buf)
		}

		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				dst.enqueueEOF()
				return nil
			}
			return a.fail(id, done, fmt.Errorf("%s read: %w", src.side, rerr))
		}
	}
}

// flush writes h's queue to h's connection.
func (a *Arena) flush(id PairID, h, partner *Half, opts Options, pool *bufferPool, done <-chan struct{}) error {
	for {
		bufs, eof := h.take()
		if len(bufs) > 0 {
			total := 0
			for _, b := range bufs {
				total += len(b)
			}

			nb := make(net.Buffers, len(bufs))
			copy(nb, bufs)
			n, err := nb.WriteTo(h.conn)
			h.bytesWritten.Add(n)
			for _, b := range bufs {
				pool.Put(b)
			}
			h.release(total, opts.LowWater, partner)

			if err != nil {
				return a.fail(id, done, fmt.Errorf("%s write: %w", h.side, err))
			}
			continue
		}

		if eof {
			if !closeWrite(h.conn) {
				a.Close(id)
			}
			return nil
		}

		select {
		case <-h.wake:
		case <-done:
			return nil
		}
	}
}

// fail closes the pair and returns err, unless the pair was already closed,
// in which case err is a consequence of that and is dropped.
func (a *Arena) fail(id PairID, done <-chan struct{}, err error) error {
	select {
	case <-done:
		return nil
	default:
	}
	a.Close(id)
	return err
}
