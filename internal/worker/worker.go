package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Task is a unit of background work.
type Task func(ctx context.Context)

// Job is a task bound to the user who submitted it.
type Job struct {
	ctx    context.Context
	userID int64
	run    Task
	stop   bool
}

type Worker struct {
	pool       *jobChannelPool
	jobChannel chan Job
	log        *zap.Logger
}

func NewWorker(pool *jobChannelPool, log *zap.Logger) *Worker {
	return &Worker{
		pool:       pool,
		jobChannel: make(chan Job),
		log:        log,
	}
}

func (w *Worker) Start() {
	go func() {
		if !w.pool.Release(w.jobChannel) {
			return
		}
		for job := range w.jobChannel {
			if job.stop {
				return
			}
			w.execute(job)
			if !w.pool.Release(w.jobChannel) {
				return
			}
		}
	}()
}

func (w *Worker) execute(job Job) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("task panicked", zap.Int64("user_id", job.userID), zap.String("panic", fmt.Sprint(r)))
		}
	}()
	job.run(job.ctx)
}
