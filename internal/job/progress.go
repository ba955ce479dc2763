package job

import (
	"context"
	"io"
	"sync"
)

// Message is one progress line. Seq starts at 1 and increases by one per push.
type Message struct {
	Seq  int
	Text string
}

// Progress is an unbounded, ordered log of progress lines for one job.
// Closing it is the end-of-stream sentinel. Readers each keep their own
// cursor, so every reader sees every message in push order.
type Progress struct {
	mu     sync.Mutex
	lines  []string
	closed bool
	// wake is closed and replaced whenever lines or closed change.
	wake chan struct{}
}

// NewProgress creates an open, empty channel.
func NewProgress() *Progress {
	return &Progress{wake: make(chan struct{})}
}

// Push appends a message. It fails once the channel is closed.
func (p *Progress) Push(text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrProgressClosed
	}
	p.lines = append(p.lines, text)
	p.broadcast()
	return nil
}

// Close emits the sentinel. It reports false if the channel was already closed.
func (p *Progress) Close() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	p.closed = true
	p.broadcast()
	return true
}

// Closed reports whether the sentinel has been emitted.
func (p *Progress) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Len returns the number of messages pushed so far.
func (p *Progress) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.lines)
}

func (p *Progress) broadcast() {
	close(p.wake)
	p.wake = make(chan struct{})
}

// Reader returns a new cursor positioned before the first message.
func (p *Progress) Reader() *Reader {
	return &Reader{p: p}
}

// Reader consumes a Progress channel in order.
type Reader struct {
	p    *Progress
	next int
	done bool
}

// Next blocks until the next message is available and returns it.
// After the sentinel has been observed it returns io.EOF on every call.
// It returns ctx.Err() if ctx ends first.
func (r *Reader) Next(ctx context.Context) (Message, error) {
	for {
		if r.done {
			return Message{}, io.EOF
		}

		r.p.mu.Lock()
		if r.next < len(r.p.lines) {
			msg := Message{Seq: r.next + 1, Text: r.p.lines[r.next]}
			r.next++
			r.p.mu.Unlock()
			return msg, nil
		}
		if r.p.closed {
			r.p.mu.Unlock()
			r.done = true
			return Message{}, io.EOF
		}
		wake := r.p.wake
		r.p.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-wake:
		}
	}
}
