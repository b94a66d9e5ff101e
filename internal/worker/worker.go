package worker

// Worker executes jobs from its channel until the pool retires it. After
// each finished job it acknowledges the dispatcher, which unblocks the
// next queued job for that session.
type Worker struct {
	pool       *jobChannelPool
	manager    *Manager
	dispatcher *Dispatcher
	jobChannel chan Job
	id         int64
}

func NewWorker(pool *jobChannelPool, manager *Manager, dispatcher *Dispatcher, id int64) *Worker {
	return &Worker{
		pool:       pool,
		manager:    manager,
		dispatcher: dispatcher,
		jobChannel: make(chan Job),
		id:         id,
	}
}

func (w *Worker) Start() {
	go func() {
		for job := range w.jobChannel {
			switch job.Type {
			case Stop:
				w.pool.retire(w.jobChannel)
				return
			case Open:
				w.manager.handleOpen(job.OpenTask)
			case Turn:
				w.manager.handleTurn(job.TurnTask)
			}
			debugLog("[worker-%d] finished job %s for session %d", w.id, job.Type, job.sessionID())
			w.dispatcher.complete(job.sessionID())
			w.pool.Release(w.jobChannel)
		}
	}()
}
