package resumable

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"streamchat/internal/sse"
	"streamchat/internal/worker"
)

const (
	defaultTTL     = 24 * time.Hour
	defaultTimeout = 2 * time.Minute
	finishTimeout  = 5 * time.Second
)

// Executor runs stream producers off the request goroutine. The submitting
// user travels in ctx (worker.WithUserID).
type Executor interface {
	Execute(ctx context.Context, fn worker.Task) error
}

// Producer writes the encoded frames of one stream.
type Producer func(ctx context.Context, out sse.Appender) error

// Context lets a producer outlive the request that started it and lets
// later requests attach to the stream it writes.
type Context struct {
	store   Store
	exec    Executor
	timeout time.Duration
	log     *zap.Logger
}

type Option func(*Context)

// WithExecutor runs producers on exec instead of plain goroutines.
func WithExecutor(exec Executor) Option {
	return func(c *Context) { c.exec = exec }
}

// WithTimeout bounds how long a producer may run.
func WithTimeout(d time.Duration) Option {
	return func(c *Context) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Context) {
		if log != nil {
			c.log = log
		}
	}
}

func NewContext(store Store, opts ...Option) *Context {
	c := &Context{store: store, timeout: defaultTimeout, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("resumable")
	return c
}

type storeAppender struct {
	ctx   context.Context
	store Store
	id    string
}

func (a storeAppender) Append(frame []byte) error {
	_, err := a.store.Append(a.ctx, a.id, frame)
	return err
}

// Wrap starts produce detached from ctx and returns a reader over its
// frames from the beginning.
func (c *Context) Wrap(ctx context.Context, userID int64, id string, produce Producer) (Reader, error) {
	if err := c.store.Create(ctx, id); err != nil {
		return nil, err
	}
	task := func(taskCtx context.Context) {
		defer c.finish(id)
		if err := taskCtx.Err(); err != nil {
			// Dropped from the queue before it could start.
			c.log.Info("stream dropped before start", zap.String("stream_id", id), zap.Error(err))
			return
		}
		runCtx, cancel := context.WithTimeout(taskCtx, c.timeout)
		defer cancel()
		go c.heartbeat(runCtx, id)
		if err := produce(runCtx, storeAppender{ctx: runCtx, store: c.store, id: id}); err != nil {
			c.log.Warn("stream producer failed", zap.String("stream_id", id), zap.Error(err))
		}
	}

	detached := worker.WithUserID(context.WithoutCancel(ctx), userID)
	if c.exec == nil {
		go task(detached)
	} else if err := c.exec.Execute(detached, task); err != nil {
		c.finish(id)
		return nil, fmt.Errorf("schedule stream %s: %w", id, err)
	}
	return newLiveReader(ctx, c.store, id, 0)
}

// heartbeat keeps the producer lease of id alive until ctx ends.
func (c *Context) heartbeat(ctx context.Context, id string) {
	ticker := time.NewTicker(leaseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.store.Heartbeat(ctx, id); err != nil && ctx.Err() == nil {
				c.log.Warn("renew stream lease", zap.String("stream_id", id), zap.Error(err))
			}
		}
	}
}

func (c *Context) finish(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()
	if err := c.store.Finish(ctx, id); err != nil {
		c.log.Error("mark stream finished", zap.String("stream_id", id), zap.Error(err))
	}
}

// Resume attaches to stream id after the frame numbered after (-1 for the
// start). A finished stream yields ErrStreamFinished; an unknown one yields
// fallback().
func (c *Context) Resume(ctx context.Context, id string, after int64, fallback func() Reader) (Reader, error) {
	state, err := c.store.State(ctx, id)
	if err != nil {
		return nil, err
	}
	switch state {
	case StateActive:
		return newLiveReader(ctx, c.store, id, after+1)
	case StateDone:
		return nil, ErrStreamFinished
	default:
		if fallback == nil {
			return StaticReader(), nil
		}
		return fallback(), nil
	}
}

func (c *Context) Close() error {
	return c.store.Close()
}
