// ABOUTME: In-memory fan-out of change notifications to host subscribers
// ABOUTME: Each subscriber has an unbounded queue, so a slow reader never loses events or stalls callbacks

package client

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/2389/mapi-bridge/internal/notify"
)

// subscriber queues events until its pump hands them to the reader.
type subscriber struct {
	out  chan notify.Event
	wake chan struct{}
	stop chan struct{}

	mu       sync.Mutex
	queue    []notify.Event
	finished bool
	stopOnce sync.Once
}

func (s *subscriber) push(ev notify.Event) bool {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *subscriber) pop() (notify.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return notify.Event{}, false
	}
	ev := s.queue[0]
	s.queue[0] = notify.Event{}
	s.queue = s.queue[1:]
	return ev, true
}

// finish refuses further events and returns how many were still queued.
func (s *subscriber) finish() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	n := len(s.queue)
	s.queue = nil
	return n
}

func (s *subscriber) cancel() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Hub provides pub/sub for notifications received from the server.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	closed      bool
	done        chan struct{}
	pumps       sync.WaitGroup
	dropped     atomic.Int64
	logger      *slog.Logger
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[string]*subscriber),
		done:        make(chan struct{}),
		logger:      logger.With("component", "hub"),
	}
}

// Subscribe registers a subscriber. Every event published while the
// subscription is live is delivered in order. The channel is closed once
// ctx is cancelled, on Unsubscribe, or when the hub is closed; events still
// queued at that point are discarded.
func (h *Hub) Subscribe(ctx context.Context) (<-chan notify.Event, string) {
	subID := uuid.New().String()
	sub := &subscriber{
		out:  make(chan notify.Event),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.out)
		return sub.out, subID
	}
	h.subscribers[subID] = sub
	h.pumps.Add(1)
	h.mu.Unlock()

	h.logger.Debug("subscriber added", "sub_id", subID)
	go h.pump(ctx, subID, sub)
	return sub.out, subID
}

func (h *Hub) pump(ctx context.Context, subID string, sub *subscriber) {
	defer h.pumps.Done()
	defer close(sub.out)

	inFlight := 0
	defer func() {
		h.mu.Lock()
		if h.subscribers[subID] == sub {
			delete(h.subscribers, subID)
		}
		h.mu.Unlock()
		if n := sub.finish() + inFlight; n > 0 {
			h.dropped.Add(int64(n))
			h.logger.Debug("discarded events of ended subscriber", "sub_id", subID, "count", n)
		}
		h.logger.Debug("subscriber removed", "sub_id", subID)
	}()

	for {
		ev, ok := sub.pop()
		if !ok {
			select {
			case <-sub.wake:
				continue
			case <-sub.stop:
			case <-ctx.Done():
			case <-h.done:
			}
			return
		}
		inFlight = 1
		select {
		case sub.out <- ev:
			inFlight = 0
		case <-sub.stop:
			return
		case <-ctx.Done():
			return
		case <-h.done:
			return
		}
	}
}

// Publish queues ev for every subscriber. It never blocks.
func (h *Hub) Publish(ev notify.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers {
		if !sub.push(ev) {
			h.dropped.Add(1)
		}
	}
}

// Unsubscribe ends a subscription. Its channel is closed shortly after.
func (h *Hub) Unsubscribe(subID string) {
	h.mu.RLock()
	sub, ok := h.subscribers[subID]
	h.mu.RUnlock()
	if ok {
		sub.cancel()
	}
}

// Dropped reports how many events were discarded because their subscriber
// had already ended.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Close ends every subscription and waits for their channels to close.
// Later subscriptions get a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.done)
	h.mu.Unlock()

	h.pumps.Wait()
	h.logger.Debug("hub closed")
}
