package worker

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type workerMeta struct {
	ch        chan Job
	lastUsed  time.Time
	enqueued  bool // is in the idle queue
	discarded bool // is targeted as delete
}

type jobChannelPool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	idle     []*workerMeta
	metadata map[chan Job]*workerMeta
	min      int
	max      int
	running  int
	busy     int
	expiry   time.Duration
	stopped  bool
	quit     chan struct{}
	log      *zap.Logger
}

const defaultWorkerIdle = 30 * time.Second

func newJobChannelPool(minWorkers, maxWorkers int, idle time.Duration, log *zap.Logger) *jobChannelPool {
	if idle <= 0 {
		idle = defaultWorkerIdle
	}
	if minWorkers < 1 {
		minWorkers = 1
	}
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}
	p := &jobChannelPool{
		metadata: make(map[chan Job]*workerMeta),
		min:      minWorkers,
		max:      maxWorkers,
		expiry:   idle,
		quit:     make(chan struct{}),
		log:      log,
	}
	p.cond = sync.NewCond(&p.mu)
	go p.purgeStaleWorkers()
	return p
}

// spawnWorker adds a worker unless the pool is full.
func (p *jobChannelPool) spawnWorker() {
	p.mu.Lock()
	if p.stopped || p.running >= p.max {
		p.mu.Unlock()
		return
	}
	w := p.newWorkerLocked()
	p.mu.Unlock()
	w.Start()
}

func (p *jobChannelPool) newWorkerLocked() *Worker {
	w := NewWorker(p, p.log)
	p.metadata[w.jobChannel] = &workerMeta{ch: w.jobChannel}
	p.running++
	return w
}

// acquire returns an idle worker, spawning one when below max. It blocks while
// every worker is busy and returns nil once the pool is stopped.
func (p *jobChannelPool) acquire() chan Job {
	for {
		p.mu.Lock()
		if p.stopped {
			p.mu.Unlock()
			return nil
		}
		if meta := p.popIdleLocked(); meta != nil {
			p.busy++
			p.mu.Unlock()
			return meta.ch
		}
		if p.running < p.max {
			w := p.newWorkerLocked()
			p.mu.Unlock()
			w.Start()
			continue
		}
		p.cond.Wait()
		p.mu.Unlock()
	}
}

// Release returns a worker to the idle list. A false result tells the worker
// to exit.
func (p *jobChannelPool) Release(ch chan Job) bool {
	p.mu.Lock()
	meta, ok := p.metadata[ch]
	if !ok || meta.discarded {
		p.mu.Unlock()
		return false
	}
	if p.stopped {
		delete(p.metadata, ch)
		p.running--
		p.mu.Unlock()
		return false
	}
	if meta.enqueued {
		p.mu.Unlock()
		return true
	}
	if !meta.lastUsed.IsZero() && p.busy > 0 {
		p.busy--
	}
	meta.enqueued = true
	meta.lastUsed = time.Now()
	p.idle = append(p.idle, meta)
	p.mu.Unlock()
	p.cond.Signal()
	return true
}

// popIdleLocked pops the oldest live idle worker.
func (p *jobChannelPool) popIdleLocked() *workerMeta {
	for len(p.idle) > 0 {
		meta := p.idle[0]
		p.idle = p.idle[1:]
		if meta.discarded {
			continue
		}
		meta.enqueued = false
		return meta
	}
	return nil
}

// Stats reports running and busy worker counts.
func (p *jobChannelPool) Stats() (running, busy int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running, p.busy
}

func (p *jobChannelPool) purgeStaleWorkers() {
	ticker := time.NewTicker(p.expiry)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.shutdownExpired()
		case <-p.quit:
			return
		}
	}
}

// shutdownExpired retires idle workers past expiry, keeping at least min.
func (p *jobChannelPool) shutdownExpired() {
	var stale []*workerMeta
	now := time.Now()

	p.mu.Lock()
	if len(p.idle) == 0 || p.running <= p.min {
		p.mu.Unlock()
		return
	}
	remaining := p.idle[:0]
	for _, meta := range p.idle {
		if meta.discarded {
			continue
		}
		if now.Sub(meta.lastUsed) >= p.expiry && p.running-len(stale) > p.min {
			meta.discarded = true
			meta.enqueued = false
			delete(p.metadata, meta.ch)
			stale = append(stale, meta)
			continue
		}
		remaining = append(remaining, meta)
	}
	p.idle = remaining
	p.running -= len(stale)
	p.mu.Unlock()

	for _, meta := range stale {
		meta.ch <- Job{stop: true}
	}
	if len(stale) > 0 {
		p.log.Debug("retired idle workers", zap.Int("count", len(stale)))
	}
}

// shutdown stops idle workers now; busy ones exit after their current task.
func (p *jobChannelPool) shutdown() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	idle := p.idle
	p.idle = nil
	for _, meta := range idle {
		meta.discarded = true
		delete(p.metadata, meta.ch)
		p.running--
	}
	p.mu.Unlock()
	close(p.quit)
	p.cond.Broadcast()
	for _, meta := range idle {
		meta.ch <- Job{stop: true}
	}
}
