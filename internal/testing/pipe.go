package testing

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPipeClosed = errors.New("pipe closed")
	ErrPipeBroken = errors.New("pipe broken")
)

// Pipe is an in-memory frame transport. The server side uses ReadMessage and
// WriteMessage, the test plays the client through Push and Next.
type Pipe struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
	broken atomic.Bool
}

func NewPipe() *Pipe {
	return &Pipe{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 1024),
		closed: make(chan struct{}),
	}
}

// ReadMessage never returns a queued frame once the pipe is closed
func (p *Pipe) ReadMessage() ([]byte, error) {
	if p.IsClosed() {
		return nil, ErrPipeClosed
	}
	select {
	case data := <-p.in:
		return data, nil
	case <-p.closed:
		return nil, ErrPipeClosed
	}
}

func (p *Pipe) WriteMessage(data []byte) error {
	if p.broken.Load() {
		return ErrPipeBroken
	}
	select {
	case <-p.closed:
		return ErrPipeClosed
	default:
	}

	frame := make([]byte, len(data))
	copy(frame, data)
	select {
	case p.out <- frame:
		return nil
	case <-p.closed:
		return ErrPipeClosed
	}
}

func (p *Pipe) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

// Break makes every following write fail
func (p *Pipe) Break() { p.broken.Store(true) }

func (p *Pipe) IsClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// Push sends a frame from the client side
func (p *Pipe) Push(data []byte) error {
	if p.IsClosed() {
		return ErrPipeClosed
	}
	select {
	case p.in <- data:
		return nil
	case <-p.closed:
		return ErrPipeClosed
	}
}

// Next waits up to timeout for the next frame written by the server
func (p *Pipe) Next(timeout time.Duration) ([]byte, bool) {
	select {
	case data := <-p.out:
		return data, true
	case <-time.After(timeout):
		return nil, false
	}
}

// Pending returns the number of written frames not yet consumed by Next
func (p *Pipe) Pending() int { return len(p.out) }
