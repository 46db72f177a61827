package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"pickofgods/internal/logger"
)

var (
	ErrQueueFull = errors.New("worker: job queue full")
	ErrClosed    = errors.New("worker: dispatcher closed")
)

type keyQueue struct {
	jobs     []Job
	enqueued bool
	running  bool
}

// Dispatcher fans jobs out to a bounded worker pool. Keys are served round
// robin so one busy key cannot starve the others.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job // interface for outer jobs get in the dispatcher
	log      logger.Logger

	mu        sync.Mutex
	queues    map[string]*keyQueue // job queue for each key
	ready     *list.List           // keys with a runnable job
	positions map[string]*list.Element
	wake      chan struct{}
	quit      chan struct{}
	closed    bool
	pending   int
	idle      chan struct{} // closed whenever pending drops to zero
}

func NewDispatcher(minWorkers, maxWorkers, queueSize int, idleTimeout time.Duration, l logger.Logger) *Dispatcher {
	if l == nil {
		l = logger.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	d := &Dispatcher{
		pool:      newJobChannelPool(minWorkers, maxWorkers, idleTimeout),
		JobQueue:  make(chan Job, queueSize),
		log:       l,
		queues:    make(map[string]*keyQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
		idle:      make(chan struct{}),
	}
	close(d.idle)

	for i := 0; i < minWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues job without blocking.
func (d *Dispatcher) Submit(job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.JobQueue <- job:
		if d.pending == 0 {
			d.idle = make(chan struct{})
		}
		d.pending++
		return nil
	default:
		return ErrQueueFull
	}
}

// doneLocked settles n finished or dropped jobs.
func (d *Dispatcher) doneLocked(n int) {
	if n <= 0 || d.pending == 0 {
		return
	}
	d.pending -= n
	if d.pending <= 0 {
		d.pending = 0
		close(d.idle)
	}
}

// Wait blocks until every submitted job has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	idle := d.idle
	d.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and releases idle workers. Jobs already
// running are allowed to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	close(d.quit)
	d.pool.close()
}

func (d *Dispatcher) run() {
	for {
		// dispatch one job of the key in front of the ready queue
		if !d.dispatchOne() {
			select {
			case job := <-d.JobQueue:
				d.enqueueJob(job)
			case <-d.wake:
			case <-d.quit:
				d.drop()
				return
			}
			continue
		}
		select {
		case job := <-d.JobQueue: // non-congestion
			d.enqueueJob(job)
		case <-d.quit:
			d.drop()
			return
		default:
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.Key]
	if q == nil {
		q = &keyQueue{}
		d.queues[job.Key] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued || q.running {
		return
	}
	q.enqueued = true
	d.positions[job.Key] = d.ready.PushBack(job.Key)
}

// dispatchOne hands the first ready key's oldest job to a worker
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	key := elem.Value.(string)
	q := d.queues[key]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	q.enqueued = false
	q.running = true
	d.ready.Remove(elem)
	delete(d.positions, key)
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	if workerChan == nil {
		d.finish(key)
		return false
	}
	d.log.Debugf(context.Background(), "[dispatcher] assign job for key %s", key)
	workerChan <- Job{Key: key, Run: d.wrap(key, job.Run)}
	return true
}

func (d *Dispatcher) wrap(key string, run func()) func() {
	return func() {
		defer d.finish(key)
		defer func() {
			if r := recover(); r != nil {
				d.log.Errorf(context.Background(), "[dispatcher] job for key %s panicked: %v", key, r)
			}
		}()
		if run != nil {
			run()
		}
	}
}

// finish marks key idle and re-queues it when more jobs are waiting
func (d *Dispatcher) finish(key string) {
	d.mu.Lock()
	if q := d.queues[key]; q != nil {
		q.running = false
		if len(q.jobs) > 0 {
			q.enqueued = true
			d.positions[key] = d.ready.PushBack(key)
		} else {
			delete(d.queues, key)
		}
	}
	d.doneLocked(1)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// drop discards queued jobs after Close so Wait can return.
func (d *Dispatcher) drop() {
	d.mu.Lock()
	dropped := 0
	for key, q := range d.queues {
		dropped += len(q.jobs)
		q.jobs = nil
		if !q.running {
			delete(d.queues, key)
		}
	}
	d.ready.Init()
	d.positions = make(map[string]*list.Element)
	for {
		select {
		case <-d.JobQueue:
			dropped++
		default:
			d.doneLocked(dropped)
			d.mu.Unlock()
			return
		}
	}
}

// CancelKey drops queued jobs for key. A running job is not interrupted.
func (d *Dispatcher) CancelKey(key string) {
	d.mu.Lock()
	q := d.queues[key]
	if q == nil {
		d.mu.Unlock()
		return
	}
	dropped := len(q.jobs)
	q.jobs = nil
	if elem, ok := d.positions[key]; ok {
		d.ready.Remove(elem)
		delete(d.positions, key)
	}
	q.enqueued = false
	if !q.running {
		delete(d.queues, key)
	}
	d.doneLocked(dropped)
	d.mu.Unlock()
}
