package detector

import (
	"errors"
	"fmt"
)

// ErrPoolExhausted is returned by a fail-fast pool when no buffer is free.
// The condition is recoverable: the decoder drops the packet and retries on
// the next arrival once a buffer has been released.
var ErrPoolExhausted = errors.New("buffer pool exhausted")

// BufferPool supplies the frame storage used by the decoder. The decoder
// never allocates raw memory for frames itself.
type BufferPool interface {
	// Acquire returns a free buffer of at least the requested size, its pool
	// id, or an error when the pool cannot satisfy the request.
	Acquire(size int) (id int, buf []byte, err error)

	// Release returns a buffer to the pool.
	Release(id int)
}

// SlabPool is a fixed set of preallocated, equally sized buffers with a
// channel free list. The blocking flag selects between backpressure (Acquire
// waits for a release) and fail-fast (Acquire returns ErrPoolExhausted).
type SlabPool struct {
	bufs     [][]byte
	free     chan int
	blocking bool
}

// NewSlabPool preallocates n buffers of the given size.
func NewSlabPool(n, size int, blocking bool) *SlabPool {
	p := &SlabPool{
		bufs:     make([][]byte, n),
		free:     make(chan int, n),
		blocking: blocking,
	}
	for i := range p.bufs {
		p.bufs[i] = make([]byte, size)
		p.free <- i
	}
	return p
}

// Acquire takes a free buffer from the pool.
func (p *SlabPool) Acquire(size int) (int, []byte, error) {
	if len(p.bufs) == 0 || size > len(p.bufs[0]) {
		return -1, nil, fmt.Errorf("requested %d bytes exceeds pool buffer size", size)
	}
	if p.blocking {
		id := <-p.free
		return id, p.bufs[id], nil
	}
	select {
	case id := <-p.free:
		return id, p.bufs[id], nil
	default:
		return -1, nil, ErrPoolExhausted
	}
}

// Release returns a buffer to the free list. Releasing an id the pool does
// not own is ignored.
func (p *SlabPool) Release(id int) {
	if id < 0 || id >= len(p.bufs) {
		return
	}
	select {
	case p.free <- id:
	default:
		// Double release; the id is already on the free list.
	}
}

// FreeCount returns the number of buffers currently on the free list.
func (p *SlabPool) FreeCount() int {
	return len(p.free)
}
