// Package scheduler implements delayed <send> delivery: a min-heap of
// pending events ordered by fire time, with sendid-based cancellation. It
// is a direct translation of the reference engine's SimpleScheduler
// (std::priority_queue + a cancelled-id set, filtered on pop since a
// priority queue cannot remove an arbitrary element in place) from C++ to
// Go's container/heap.
package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"

	"github.com/comalice/scxmlrt/model"
)

// Scheduled is one pending delayed send.
type Scheduled struct {
	Event    model.Event
	FireTime time.Time
	SendID   string
	deliver  Deliverer
}

type heapItem struct {
	scheduled Scheduled
	index     int
}

type eventHeap []*heapItem

func (h eventHeap) Len() int            { return len(h) }
func (h eventHeap) Less(i, j int) bool  { return h[i].scheduled.FireTime.Before(h[j].scheduled.FireTime) }
func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *eventHeap) Push(x any) {
	item := x.(*heapItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Deliverer is called with an event once its delay elapses and it has not
// been cancelled. Each Schedule call supplies its own Deliverer, since
// whether a delayed <send> ultimately belongs on the session's own internal
// queue ("#_internal") or goes out through the dispatcher depends on the
// target resolved at <send> time, not on anything the Scheduler itself
// knows about sessions.
type Deliverer func(model.Event)

// Scheduler runs one goroutine that sleeps until the next pending event's
// fire time, then delivers it. SendIDs are not namespaced by session, so
// engine.newSession gives each session its own Scheduler, mirroring how a
// single AOT-generated machine owns exactly one SimpleScheduler instance.
type Scheduler struct {
	clock clock.Clock

	mu        sync.Mutex
	heap      eventHeap
	items     map[string]*heapItem
	cancelled map[string]bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// New creates a Scheduler using clk as its time source (pass
// clock.New() for real time, clock.NewMock() in tests).
func New(clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	s := &Scheduler{
		clock:     clk,
		items:     make(map[string]*heapItem),
		cancelled: make(map[string]bool),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	heap.Init(&s.heap)
	return s
}

// Run starts the delivery loop; it returns once Stop is called. Intended to
// be launched in its own goroutine by the owner: engine.Session.Start does
// so, while aotrt.Runtime does not start the Scheduler it is given.
func (s *Scheduler) Run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		var wait <-chan time.Time
		if s.heap.Len() > 0 {
			next := s.heap[0].scheduled.FireTime
			wait = s.clock.After(next.Sub(s.clock.Now()))
		}
		s.mu.Unlock()

		select {
		case <-s.stop:
			return
		case <-s.wake:
			continue
		case <-waitOrBlock(wait):
			s.deliverReady()
		}
	}
}

// waitOrBlock returns ch if non-nil, or a channel that never fires
// otherwise, so a select with no pending events simply waits for wake/stop.
func waitOrBlock(ch <-chan time.Time) <-chan time.Time {
	if ch != nil {
		return ch
	}
	return nil
}

func (s *Scheduler) deliverReady() {
	now := s.clock.Now()
	for {
		s.mu.Lock()
		if s.heap.Len() == 0 || s.heap[0].scheduled.FireTime.After(now) {
			s.mu.Unlock()
			return
		}
		item := heap.Pop(&s.heap).(*heapItem)
		delete(s.items, item.scheduled.SendID)
		cancelled := s.cancelled[item.scheduled.SendID]
		delete(s.cancelled, item.scheduled.SendID)
		s.mu.Unlock()

		if !cancelled && item.scheduled.deliver != nil {
			item.scheduled.deliver(item.scheduled.Event)
		}
	}
}

// Schedule enqueues event for delivery after delay, returning the sendid
// assigned (sendID if non-empty, otherwise a generated uuid). A zero delay
// still goes through the scheduler rather than firing synchronously, so
// ordering relative to other scheduled sends is preserved. deliver is
// invoked with event once the delay elapses, unless cancelled first.
func (s *Scheduler) Schedule(event model.Event, delay time.Duration, sendID string, deliver Deliverer) string {
	if sendID == "" {
		sendID = uuid.NewString()
	}
	item := &heapItem{scheduled: Scheduled{
		Event:    event,
		FireTime: s.clock.Now().Add(delay),
		SendID:   sendID,
		deliver:  deliver,
	}}

	s.mu.Lock()
	heap.Push(&s.heap, item)
	s.items[sendID] = item
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return sendID
}

// Cancel marks sendID as cancelled. Per the reference scheduler, a
// std::priority_queue (and Go's container/heap) cannot remove an arbitrary
// element cheaply, so cancellation is deferred: the event is filtered out
// when it would otherwise be delivered.
func (s *Scheduler) Cancel(sendID string) bool {
	if sendID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[sendID]; !ok {
		return false
	}
	s.cancelled[sendID] = true
	return true
}

// Pending reports how many events are still scheduled (including cancelled
// ones awaiting their fire time).
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heap.Len()
}

// Stop halts the delivery loop started by Run and waits for it to exit.
func (s *Scheduler) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
}
