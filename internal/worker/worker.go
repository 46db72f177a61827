package worker

// Job is one unit of work routed through the Dispatcher. Jobs that share a
// Key run one at a time in submission order.
type Job struct {
	Key string
	Run func()

	stop bool
}

type Worker struct {
	pool       *jobChannelPool
	jobChannel chan Job
}

func newWorker(pool *jobChannelPool) *Worker {
	return &Worker{
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		if !w.pool.Release(w.jobChannel) {
			w.pool.retire(w.jobChannel)
			return
		}
		for job := range w.jobChannel {
			if job.stop {
				w.pool.retire(w.jobChannel)
				return
			}
			if job.Run != nil {
				job.Run()
			}
			if !w.pool.Release(w.jobChannel) {
				w.pool.retire(w.jobChannel)
				return
			}
		}
	}()
}
