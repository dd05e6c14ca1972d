package worker

// Worker runs jobs handed to it by the pool, one at a time.
type Worker struct {
	pool       *jobChannelPool
	handle     func(Job)
	jobChannel chan Job
}

func NewWorker(pool *jobChannelPool, handle func(Job)) *Worker {
	return &Worker{
		pool:       pool,
		handle:     handle,
		jobChannel: make(chan Job),
	}
}

// Start runs the worker loop. The pool has already listed the worker as idle.
func (w *Worker) Start() {
	go func() {
		for job := range w.jobChannel {
			if job.Type == Stop {
				w.pool.retire(w.jobChannel)
				return
			}
			w.handle(job)
			if !w.pool.Release(w.jobChannel) {
				return
			}
		}
	}()
}
