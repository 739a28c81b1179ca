// Package loop provides a single goroutine event loop with idle sources.
//
// A Loop serializes work posted from other goroutines. Functions added with
// Invoke run in order. Idle sources run only when no invocation is pending
// and are called repeatedly until they return false or are destroyed.
package loop

import (
	"sync"
	"sync/atomic"
)

type Loop struct {
	lock    sync.Mutex
	pending []func()
	idle    []*IdleSource
	running bool
	quit    bool
	wake    chan struct{}
	done    chan struct{}
}

func New() *Loop {
	return &Loop{
		lock:    sync.Mutex{},
		pending: []func(){},
		idle:    []*IdleSource{},
		running: false,
		quit:    false,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run processes work until Quit is called. Run must only be called once.
func (l *Loop) Run() {
	l.lock.Lock()
	l.running = true
	l.lock.Unlock()

	defer close(l.done)
	for {
		l.lock.Lock()
		if l.quit {
			l.running = false
			l.pending = nil
			l.lock.Unlock()
			return
		}
		if len(l.pending) > 0 {
			fn := l.pending[0]
			l.pending[0] = nil
			l.pending = l.pending[1:]
			l.lock.Unlock()
			fn()
			continue
		}
		if len(l.idle) > 0 {
			src := l.idle[0]
			l.idle[0] = nil
			l.idle = l.idle[1:]
			l.lock.Unlock()
			l.dispatch(src)
			continue
		}
		l.lock.Unlock()
		<-l.wake
	}
}

func (l *Loop) dispatch(src *IdleSource) {
	if src.IsDestroyed() {
		return
	}
	if !src.fn() {
		src.destroyed.Store(true)
		return
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	if src.IsDestroyed() || l.quit {
		return
	}
	l.idle = append(l.idle, src)
}

// Invoke schedules fn to run on the loop. It returns false if the loop has
// quit.
func (l *Loop) Invoke(fn func()) bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.quit {
		return false
	}
	l.pending = append(l.pending, fn)
	l.signal()
	return true
}

// IdleAdd adds an idle source calling fn until it returns false. If the loop
// has quit, the returned source is already destroyed.
func (l *Loop) IdleAdd(fn func() bool) *IdleSource {
	src := &IdleSource{fn: fn}
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.quit {
		src.destroyed.Store(true)
		return src
	}
	l.idle = append(l.idle, src)
	l.signal()
	return src
}

// Quit stops the loop and destroys all idle sources. Pending invocations
// are discarded.
func (l *Loop) Quit() {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.quit {
		return
	}
	l.quit = true
	for _, src := range l.idle {
		src.destroyed.Store(true)
	}
	l.idle = nil
	l.signal()
}

func (l *Loop) IsRunning() bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.running
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// IdleSource is a handle to a function added with IdleAdd.
type IdleSource struct {
	fn        func() bool
	destroyed atomic.Bool
}

// Destroy removes the source. The function will not be called again once
// Destroy returns, unless it is currently running.
func (s *IdleSource) Destroy() {
	s.destroyed.Store(true)
}

func (s *IdleSource) IsDestroyed() bool {
	return s.destroyed.Load()
}
