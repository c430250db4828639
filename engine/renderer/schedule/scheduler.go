package schedule

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/spaghettifunk/reflex/engine/core"
)

// ThreadID identifies a producer. Each producer owns exactly one schedule slot.
type ThreadID uuid.UUID

func NewThreadID() ThreadID {
	return ThreadID(uuid.New())
}

func (t ThreadID) String() string {
	return uuid.UUID(t).String()
}

type slot[T any] struct {
	owner ThreadID

	// mu guards front and is only held to append or to swap buffers.
	mu    sync.Mutex
	front []T
	// back is only touched by the assembler.
	back []T
}

type registry[T any] struct {
	order []*slot[T]
	byID  map[ThreadID]*slot[T]
}

// WorkScheduler accumulates work items from several producers and hands the
// whole frame's work to a single consumer. Each producer writes into its own
// double buffered slot so producers never contend with each other; the
// consumer only takes a slot lock long enough to swap its buffers.
//
// Items pushed by one producer keep their push order. Across producers the
// assembled order is the order the slots were registered in.
type WorkScheduler[T any] struct {
	maxSchedules int
	maxItems     int
	metrics      *core.Metrics

	regMu sync.Mutex
	reg   atomic.Pointer[registry[T]]

	assembleMu sync.Mutex
	generation atomic.Uint64
}

func NewWorkScheduler[T any](maxSchedules, maxItems int, metrics *core.Metrics) *WorkScheduler[T] {
	if metrics == nil {
		metrics = core.NewMetrics()
	}
	ws := &WorkScheduler[T]{
		maxSchedules: maxSchedules,
		maxItems:     maxItems,
		metrics:      metrics,
	}
	ws.reg.Store(&registry[T]{byID: map[ThreadID]*slot[T]{}})
	return ws
}

// AddSchedule registers a slot for threadID. Registering the same thread twice
// is a no-op.
func (ws *WorkScheduler[T]) AddSchedule(threadID ThreadID) error {
	ws.regMu.Lock()
	defer ws.regMu.Unlock()

	current := ws.reg.Load()
	if _, exists := current.byID[threadID]; exists {
		return nil
	}
	if len(current.order) >= ws.maxSchedules {
		ws.metrics.SchedulerSlotsRejected.Add(1)
		core.LogWarn("work scheduler: all %d schedule slots taken, rejecting thread %s", ws.maxSchedules, threadID)
		return core.ErrScheduleSlotsExhausted
	}

	s := &slot[T]{
		owner: threadID,
		front: make([]T, 0, ws.maxItems),
		back:  make([]T, 0, ws.maxItems),
	}
	next := &registry[T]{
		order: make([]*slot[T], len(current.order), len(current.order)+1),
		byID:  make(map[ThreadID]*slot[T], len(current.byID)+1),
	}
	copy(next.order, current.order)
	next.order = append(next.order, s)
	for id, v := range current.byID {
		next.byID[id] = v
	}
	next.byID[threadID] = s
	ws.reg.Store(next)
	return nil
}

// Push appends item to the slot owned by threadID. When the slot already holds
// the per-frame maximum the item is dropped and ErrScheduleFull is returned.
func (ws *WorkScheduler[T]) Push(threadID ThreadID, item T) error {
	s, ok := ws.reg.Load().byID[threadID]
	if !ok {
		return core.ErrUnknownSchedule
	}
	return ws.push(s, item)
}

func (ws *WorkScheduler[T]) push(s *slot[T], item T) error {
	s.mu.Lock()
	if len(s.front) >= ws.maxItems {
		s.mu.Unlock()
		ws.metrics.SchedulerItemsDropped.Add(1)
		return core.ErrScheduleFull
	}
	s.front = append(s.front, item)
	s.mu.Unlock()
	return nil
}

// Producer returns a handle bound to threadID's slot, skipping the lookup on
// every push.
func (ws *WorkScheduler[T]) Producer(threadID ThreadID) (*Producer[T], error) {
	s, ok := ws.reg.Load().byID[threadID]
	if !ok {
		return nil, core.ErrUnknownSchedule
	}
	return &Producer[T]{ws: ws, s: s}, nil
}

// AssembleScheduledWork closes the current generation and returns every item
// pushed during it. The returned slice is freshly allocated and owned by the
// caller. Concurrent calls are serialized.
func (ws *WorkScheduler[T]) AssembleScheduledWork() []T {
	ws.assembleMu.Lock()
	defer ws.assembleMu.Unlock()

	reg := ws.reg.Load()
	total := 0
	for _, s := range reg.order {
		s.mu.Lock()
		s.front, s.back = s.back[:0], s.front
		s.mu.Unlock()
		total += len(s.back)
	}
	ws.generation.Add(1)

	work := make([]T, 0, total)
	for _, s := range reg.order {
		work = append(work, s.back...)
		clear(s.back)
		s.back = s.back[:0]
	}
	return work
}

// Generation counts completed assemblies.
func (ws *WorkScheduler[T]) Generation() uint64 {
	return ws.generation.Load()
}

func (ws *WorkScheduler[T]) Schedules() int {
	return len(ws.reg.Load().order)
}

// Pending returns the number of items waiting for the next assembly.
func (ws *WorkScheduler[T]) Pending() int {
	n := 0
	for _, s := range ws.reg.Load().order {
		s.mu.Lock()
		n += len(s.front)
		s.mu.Unlock()
	}
	return n
}

func (ws *WorkScheduler[T]) Capacity() (schedules, itemsPerSchedule int) {
	return ws.maxSchedules, ws.maxItems
}

type Producer[T any] struct {
	ws *WorkScheduler[T]
	s  *slot[T]
}

func (p *Producer[T]) Push(item T) error {
	return p.ws.push(p.s, item)
}

func (p *Producer[T]) ThreadID() ThreadID {
	return p.s.owner
}
