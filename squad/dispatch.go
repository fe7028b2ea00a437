package squad

import (
	"errors"
	"sync"
)

// errDispatcherClosed is returned from do/call after close.
var errDispatcherClosed = errors.New("dispatcher closed")

type dispatchResult struct {
	value interface{}
	err   error
}

// dispatcher serializes coordinator work onto a single goroutine.
//
// Game UIs can invoke coordinator methods from multiple goroutines; keeping
// all state changes and transport interactions serialized prevents subtle
// races without fine-grained locking. close drains queued work and stops
// the goroutine; submissions after close fail instead of queueing forever.
type dispatcher struct {
	mu     sync.Mutex
	q      chan func()
	closed bool
	done   chan struct{}
}

func newDispatcher(queueSize int) *dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &dispatcher{
		q:    make(chan func(), queueSize),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer close(d.done)
	for fn := range d.q {
		if fn != nil {
			fn()
		}
	}
}

// submit enqueues fn unless the dispatcher is closed. The send happens
// under the mutex so close never races a pending enqueue.
func (d *dispatcher) submit(fn func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errDispatcherClosed
	}
	d.q <- fn
	return nil
}

// do enqueues fn without waiting for it to run.
func (d *dispatcher) do(fn func()) error {
	if d == nil {
		return errDispatcherClosed
	}
	if fn == nil {
		return nil
	}
	return d.submit(fn)
}

// call runs fn on the dispatch goroutine and waits for its result.
func (d *dispatcher) call(fn func() (interface{}, error)) (interface{}, error) {
	if d == nil {
		return nil, errDispatcherClosed
	}
	if fn == nil {
		return nil, nil
	}
	resCh := make(chan dispatchResult, 1)
	err := d.submit(func() {
		value, err := fn()
		resCh <- dispatchResult{value: value, err: err}
	})
	if err != nil {
		return nil, err
	}
	res := <-resCh
	return res.value, res.err
}

// close stops accepting work, drains what was already queued, and waits
// for the goroutine to exit. Must not be called from the dispatch
// goroutine itself.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	close(d.q)
	d.mu.Unlock()
	<-d.done
}
