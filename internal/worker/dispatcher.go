package worker

import (
	"container/list"
	"sync"
	"time"
)

type sessionQueue struct {
	jobs     []Job
	enqueued bool // present in the ready list
	inflight bool // a job for this session is currently executing
}

// Dispatcher fans jobs out to the worker pool with per-session FIFO
// queues and LRU fairness across sessions. A session is never dispatched
// while one of its jobs is in flight, so turn N+1 can only start after
// turn N has fully persisted.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job // interface for outer jobs to get in the dispatcher
	manager  *Manager

	mu        sync.Mutex
	queues    map[int64]*sessionQueue
	ready     *list.List // LRU queue storing session IDs
	positions map[int64]*list.Element
	notify    chan struct{} // wakes the loop when complete re-queues a session
}

// DispatcherConfig sizes the pool and the global queue.
type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
}

func NewDispatcher(cfg DispatcherConfig, manager *Manager) *Dispatcher {
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	d := &Dispatcher{
		JobQueue:  make(chan Job, cfg.QueueSize),
		manager:   manager,
		queues:    make(map[int64]*sessionQueue),
		ready:     list.New(),
		positions: make(map[int64]*list.Element),
		notify:    make(chan struct{}, 1),
	}
	d.pool = newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout, manager, d)

	// Warm up the minimum worker set.
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit enqueues a job without blocking; a full queue is surfaced as
// ErrDispatcherBusy.
func (d *Dispatcher) Submit(job Job) error {
	select {
	case d.JobQueue <- job:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

func (d *Dispatcher) run() {
	for {
		// dispatch one job of the session at the front of the LRU queue
		if !d.dispatchOne() {
			select {
			case job := <-d.JobQueue: // force congestion
				d.enqueueJob(job)
			case <-d.notify:
			}
			continue
		}
		// if we have a new job, enqueue it and its session
		select {
		case job := <-d.JobQueue: // non-congestion
			d.enqueueJob(job)
		default:
		}
	}
}

// CancelSession drops all pending jobs for a session. Each dropped job
// still owes its caller an answer, so they are failed with
// ErrSessionClosed rather than silently discarded.
func (d *Dispatcher) CancelSession(sessionID int64) {
	d.mu.Lock()
	var dropped []Job
	if q := d.queues[sessionID]; q != nil {
		dropped = q.jobs
		q.jobs = nil
	}
	delete(d.queues, sessionID)
	if elem, ok := d.positions[sessionID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, sessionID)
	}
	d.mu.Unlock()

	for _, job := range dropped {
		job.fail(ErrSessionClosed)
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	sessionID := job.sessionID()

	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[sessionID]
	if q == nil {
		q = &sessionQueue{}
		d.queues[sessionID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued || q.inflight {
		// session already queued or running, its jobs wait their turn
		return
	}
	q.enqueued = true
	elem := d.ready.PushBack(sessionID)
	d.positions[sessionID] = elem
}

// dispatchOne takes the first ready session and dispatches its oldest
// job. The session leaves the ready list until complete is called.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	sessionID := elem.Value.(int64)
	q := d.queues[sessionID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	q.inflight = true
	q.enqueued = false
	d.ready.Remove(elem)
	delete(d.positions, sessionID)
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	debugLog("[dispatcher] assign job %s for session %d to worker-%d", job.Type, sessionID, d.pool.workerID(workerChan))
	workerChan <- job
	return true
}

// complete clears the in-flight mark and, when more jobs wait, puts the
// session back at the end of the LRU queue.
func (d *Dispatcher) complete(sessionID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[sessionID]
	if q == nil {
		return
	}
	q.inflight = false
	if len(q.jobs) == 0 {
		delete(d.queues, sessionID)
		return
	}
	if !q.enqueued {
		q.enqueued = true
		elem := d.ready.PushBack(sessionID)
		d.positions[sessionID] = elem
	}
	select {
	case d.notify <- struct{}{}:
	default:
	}
}
