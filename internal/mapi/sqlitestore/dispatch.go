// ABOUTME: Single goroutine that delivers store events to advise sinks
// ABOUTME: Plays the role of the native event-dispatch thread

package sqlitestore

import "sync"

// dispatcher runs queued functions in order on one goroutine. The queue is
// unbounded so a writer never blocks on a sink that is waiting for the
// session lock the writer holds.
type dispatcher struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.wake:
		case <-d.done:
			return
		}
		for {
			d.mu.Lock()
			if len(d.pending) == 0 {
				d.mu.Unlock()
				break
			}
			fn := d.pending[0]
			d.pending[0] = nil
			d.pending = d.pending[1:]
			d.mu.Unlock()

			select {
			case <-d.done:
				return
			default:
			}
			fn()
		}
	}
}

// post queues fn. Functions posted after close are dropped.
func (d *dispatcher) post(fn func()) {
	select {
	case <-d.done:
		return
	default:
	}
	d.mu.Lock()
	d.pending = append(d.pending, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// flush waits until everything queued before the call has run. It must not
// be called from a sink.
func (d *dispatcher) flush() {
	marker := make(chan struct{})
	d.post(func() { close(marker) })
	select {
	case <-marker:
	case <-d.done:
	}
}

func (d *dispatcher) close() {
	d.once.Do(func() {
		close(d.done)
	})
	d.wg.Wait()
}
