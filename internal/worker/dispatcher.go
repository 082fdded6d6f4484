package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrDispatcherBusy is returned when the intake queue is full.
var ErrDispatcherBusy = errors.New("dispatcher queue full")

// ErrDispatcherStopped is returned after Stop.
var ErrDispatcherStopped = errors.New("dispatcher stopped")

type Config struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

type userQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher runs tasks on a bounded worker pool, round-robin across users so
// one user's burst cannot starve the others.
type Dispatcher struct {
	pool     *jobChannelPool
	jobQueue chan Job
	limit    int64
	pending  atomic.Int64 // submitted but not yet handed to a worker
	log      *zap.Logger

	mu        sync.Mutex
	queues    map[int64]*userQueue // job queue for each user
	ready     *list.List           // LRU queue storing user IDs
	positions map[int64]*list.Element
	stopped   bool
	quit      chan struct{}
	stopOnce  sync.Once
}

func NewDispatcher(cfg Config, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("worker")
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	d := &Dispatcher{
		pool:      newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout, log),
		jobQueue:  make(chan Job, cfg.QueueSize),
		limit:     int64(cfg.QueueSize),
		log:       log,
		queues:    make(map[int64]*userQueue),
		ready:     list.New(),
		positions: make(map[int64]*list.Element),
		quit:      make(chan struct{}),
	}
	for i := 0; i < d.pool.min; i++ {
		d.pool.spawnWorker()
	}
	go d.run()
	return d
}

// Execute schedules fn for the user carried by ctx (see WithUserID) and
// returns without waiting for it to run.
func (d *Dispatcher) Execute(ctx context.Context, fn Task) error {
	return d.Submit(ctx, UserIDFromContext(ctx), fn)
}

// Submit schedules fn on behalf of userID. Every accepted task runs exactly
// once: tasks dropped by CancelUser or Stop run with a cancelled context.
func (d *Dispatcher) Submit(ctx context.Context, userID int64, fn Task) error {
	if fn == nil {
		return errors.New("nil task")
	}
	select {
	case <-d.quit:
		return ErrDispatcherStopped
	default:
	}
	if d.pending.Add(1) > d.limit {
		d.pending.Add(-1)
		d.log.Warn("dispatcher saturated", zap.Int64("user_id", userID))
		return ErrDispatcherBusy
	}
	d.jobQueue <- Job{ctx: WithUserID(ctx, userID), userID: userID, run: fn}
	select {
	case <-d.quit:
		// Raced with Stop; nothing will dispatch this job.
		d.drain()
	default:
	}
	return nil
}

// Stop refuses new work and lets running tasks finish. Queued tasks are
// released through abandon.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		var dropped []Job
		for _, q := range d.queues {
			dropped = append(dropped, q.jobs...)
		}
		d.queues = make(map[int64]*userQueue)
		d.positions = make(map[int64]*list.Element)
		d.ready.Init()
		d.mu.Unlock()

		close(d.quit)
		d.pool.shutdown()
		d.abandon(dropped...)
		d.drain()
		if len(dropped) > 0 {
			d.log.Info("released queued tasks on stop", zap.Int("count", len(dropped)))
		}
	})
}

func (d *Dispatcher) run() {
	for {
		d.drain()
		if d.dispatchOne() {
			continue
		}
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		case <-d.quit:
			return
		}
	}
}

// drain moves everything waiting in the intake channel into per-user queues.
func (d *Dispatcher) drain() {
	for {
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		default:
			return
		}
	}
}

// CancelUser drops a user's queued tasks. Running tasks are not interrupted.
func (d *Dispatcher) CancelUser(userID int64) {
	d.drain()
	d.mu.Lock()
	var dropped []Job
	if q, ok := d.queues[userID]; ok {
		dropped = q.jobs
	}
	delete(d.queues, userID)
	if elem, ok := d.positions[userID]; ok {
		d.ready.Remove(elem)
		delete(d.positions, userID)
	}
	d.mu.Unlock()

	if len(dropped) > 0 {
		d.log.Info("cancelled queued tasks", zap.Int64("user_id", userID), zap.Int("count", len(dropped)))
	}
	d.abandon(dropped...)
}

// abandon runs each job with an already cancelled context so it can release
// whatever it was handed at submit time.
func (d *Dispatcher) abandon(jobs ...Job) {
	if len(jobs) == 0 {
		return
	}
	d.pending.Add(-int64(len(jobs)))
	for _, job := range jobs {
		go func(job Job) {
			ctx, cancel := context.WithCancel(job.ctx)
			cancel()
			defer func() {
				if r := recover(); r != nil {
					d.log.Error("abandoned task panicked", zap.Int64("user_id", job.userID), zap.Any("panic", r))
				}
			}()
			job.run(ctx)
		}(job)
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.abandon(job)
		return
	}
	defer d.mu.Unlock()

	q := d.queues[job.userID]
	if q == nil {
		q = &userQueue{}
		d.queues[job.userID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.userID] = d.ready.PushBack(job.userID)
}

// dispatchOne hands the front user's next job to a worker. The job stays in
// its user queue until a worker is free so CancelUser and Stop can reach it.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	empty := d.ready.Len() == 0
	d.mu.Unlock()
	if empty {
		return false
	}

	workerChan := d.pool.acquire()
	if workerChan == nil {
		// Stopped; Stop releases whatever is still queued.
		return false
	}

	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		// Queue emptied by CancelUser while waiting for the worker.
		if !d.pool.Release(workerChan) {
			workerChan <- Job{stop: true}
		}
		return true
	}
	userID := elem.Value.(int64)
	q := d.queues[userID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, userID)
		delete(d.queues, userID)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	d.pending.Add(-1)
	d.log.Debug("dispatch job", zap.Int64("user_id", userID))
	workerChan <- job
	return true
}

type userIDKey struct{}

// WithUserID tags ctx with the submitting user for fair scheduling.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

func UserIDFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(userIDKey{}).(int64)
	return id
}
