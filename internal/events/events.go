// Package events implements the single-consumer FIFO event queue that
// serializes every controller state mutation. The design is the
// same single-goroutine admin loop pattern pkg/kfake's Cluster.run uses:
// one worker, many producers, no priority ordering.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is the minimal contract every ControllerEvent satisfies: a
// state tag (for per-state timing metrics) and a process function. The
// process function may block on coordination-service I/O or broker
// queue sends; that suspension is intentional and stalls the
// whole queue while it runs.
type Event interface {
	StateTag() string
	Process()
}

// awaitLatch is the sentinel event tests use to fence the queue: once it
// is processed, every event enqueued before it has also been processed.
type awaitLatch struct {
	done chan struct{}
}

func (a *awaitLatch) StateTag() string { return "AwaitLatch" }
func (a *awaitLatch) Process()         { close(a.done) }

// Manager runs the single controller event loop.
type Manager struct {
	log *zap.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool

	wg sync.WaitGroup

	// timers[stateTag] accumulates total processing time, mirroring the
	// per-state rate/time histograms exposed through Stats.
	timerMu sync.Mutex
	timers  map[string]time.Duration
	counts  map[string]int64
}

// New constructs an idle manager; call Start to begin processing.
func New(log *zap.Logger) *Manager {
	m := &Manager{
		log:    log,
		timers: make(map[string]time.Duration),
		counts: make(map[string]int64),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// StartupEvent is enqueued once, automatically, before the worker
// starts, so the very first thing processed is whatever bootstrap logic
// the controller wires up via a StartupEvent value passed to Start.
func (m *Manager) Start(startup Event) {
	if startup != nil {
		m.Put(startup)
	}
	m.wg.Add(1)
	go m.run()
}

// Put enqueues ev at the tail of the FIFO. Safe to call from any
// goroutine; this is the only way watches, timers, RPC callbacks, and
// API calls may influence controller state: watches as events, never
// as direct callbacks.
func (m *Manager) Put(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.queue = append(m.queue, ev)
	m.cond.Signal()
}

// AwaitLatch blocks until every event enqueued before this call has been
// processed. Intended for tests.
func (m *Manager) AwaitLatch() {
	done := make(chan struct{})
	m.Put(&awaitLatch{done: done})
	<-done
}

func (m *Manager) run() {
	defer m.wg.Done()
	for {
		m.mu.Lock()
		for len(m.queue) == 0 && !m.closed {
			m.cond.Wait()
		}
		if len(m.queue) == 0 && m.closed {
			m.mu.Unlock()
			return
		}
		ev := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		start := time.Now()
		m.safeProcess(ev)
		elapsed := time.Since(start)

		m.timerMu.Lock()
		m.timers[ev.StateTag()] += elapsed
		m.counts[ev.StateTag()]++
		m.timerMu.Unlock()
	}
}

// safeProcess recovers a panicking event so one bad event does not kill
// the whole loop; the loop catches at the outermost process()
// boundary and continues.
func (m *Manager) safeProcess(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("event processing panicked",
				zap.String("state", ev.StateTag()), zap.Any("recover", r))
		}
	}()
	ev.Process()
}

// Stats returns a snapshot of per-state counts and cumulative time, for
// exporting as event-processing histograms.
func (m *Manager) Stats() (counts map[string]int64, timers map[string]time.Duration) {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	counts = make(map[string]int64, len(m.counts))
	timers = make(map[string]time.Duration, len(m.timers))
	for k, v := range m.counts {
		counts[k] = v
	}
	for k, v := range m.timers {
		timers[k] = v
	}
	return
}

// Shutdown closes the queue and waits for the worker to drain and exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()
	m.wg.Wait()
}
