// Package queue implements the hand-off queue between the ICE receive path
// and the pipeline thread of a source element.
package queue

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

var (
	// ErrUnlocked is returned by Pop while the queue is unlocked (flushing).
	ErrUnlocked = errors.New("queue unlocked")

	// ErrClosed is returned by Pop and Push after the queue was closed.
	ErrClosed = errors.New("queue closed")
)

// Packet is a datagram received on an ICE component.
type Packet struct {
	Data      []byte
	From      net.Addr
	Component uint16
	Received  time.Time
}

// Queue is a FIFO of packets. A Queue with a positive limit drops the oldest
// packet when a new one is pushed into a full queue.
type Queue struct {
	lock     sync.Mutex
	packets  []Packet
	limit    int
	unlocked bool
	closed   bool
	wake     chan struct{}
}

// New creates a Queue holding at most limit packets. A limit of zero or less
// means unbounded.
func New(limit int) *Queue {
	return &Queue{
		lock:     sync.Mutex{},
		packets:  []Packet{},
		limit:    limit,
		unlocked: false,
		closed:   false,
		wake:     make(chan struct{}),
	}
}

// broadcast must be called with the lock held.
func (q *Queue) broadcast() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// Push appends p and reports whether the oldest packet was dropped to make
// room. Pushing into a closed queue discards p and returns ErrClosed.
func (q *Queue) Push(p Packet) (dropped bool, err error) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.closed {
		return false, ErrClosed
	}
	if q.limit > 0 && len(q.packets) >= q.limit {
		q.packets[0] = Packet{}
		q.packets = q.packets[1:]
		dropped = true
	}
	q.packets = append(q.packets, p)
	q.broadcast()
	return dropped, nil
}

// Pop removes and returns the oldest packet, blocking until one is
// available, the queue is unlocked or closed, or ctx is done.
func (q *Queue) Pop(ctx context.Context) (Packet, error) {
	for {
		q.lock.Lock()
		if q.closed {
			q.lock.Unlock()
			return Packet{}, ErrClosed
		}
		if q.unlocked {
			q.lock.Unlock()
			return Packet{}, ErrUnlocked
		}
		if p, ok := q.popLocked(); ok {
			q.lock.Unlock()
			return p, nil
		}
		wake := q.wake
		q.lock.Unlock()

		select {
		case <-ctx.Done():
			return Packet{}, ctx.Err()
		case <-wake:
		}
	}
}

// TryPop removes and returns the oldest packet without blocking. It returns
// false if the queue is empty, unlocked or closed.
func (q *Queue) TryPop() (Packet, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.closed || q.unlocked {
		return Packet{}, false
	}
	return q.popLocked()
}

func (q *Queue) popLocked() (Packet, bool) {
	if len(q.packets) == 0 {
		return Packet{}, false
	}
	p := q.packets[0]
	q.packets[0] = Packet{}
	q.packets = q.packets[1:]
	return p, true
}

// Unlock makes blocked and future Pop calls return ErrUnlocked until
// UnlockStop is called.
func (q *Queue) Unlock() {
	q.lock.Lock()
	defer q.lock.Unlock()
	q.unlocked = true
	q.broadcast()
}

// UnlockStop clears the unlock flag.
func (q *Queue) UnlockStop() {
	q.lock.Lock()
	defer q.lock.Unlock()
	q.unlocked = false
}

func (q *Queue) Unlocked() bool {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.unlocked
}

// Flush discards all queued packets and returns how many were discarded.
func (q *Queue) Flush() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	n := len(q.packets)
	clear(q.packets)
	q.packets = q.packets[:0]
	return n
}

func (q *Queue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.packets)
}

// Close discards all packets and wakes blocked Pop calls. Close is
// idempotent.
func (q *Queue) Close() {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.packets = nil
	q.broadcast()
}
