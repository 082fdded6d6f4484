package resumable

import (
	"context"
	"io"
	"time"
)

const pollInterval = time.Second

// Frame is one encoded event with its position in the stream.
type Frame struct {
	Seq  int64
	Data []byte
}

// Reader yields frames in order and returns io.EOF once the stream ends.
type Reader interface {
	Next(ctx context.Context) (Frame, error)
	Close()
}

type liveReader struct {
	store       Store
	id          string
	next        int64
	buf         [][]byte
	wake        <-chan struct{}
	unsubscribe func()
	ended       bool
}

func newLiveReader(ctx context.Context, store Store, id string, from int64) (*liveReader, error) {
	wake, unsubscribe, err := store.Subscribe(ctx, id)
	if err != nil {
		return nil, err
	}
	if from < 0 {
		from = 0
	}
	return &liveReader{store: store, id: id, next: from, wake: wake, unsubscribe: unsubscribe}, nil
}

func (r *liveReader) Next(ctx context.Context) (Frame, error) {
	for {
		if len(r.buf) > 0 {
			f := Frame{Seq: r.next, Data: r.buf[0]}
			r.buf = r.buf[1:]
			r.next++
			return f, nil
		}
		if r.ended {
			return Frame{}, io.EOF
		}
		frames, err := r.store.Range(ctx, r.id, r.next)
		if err != nil {
			return Frame{}, err
		}
		if len(frames) > 0 {
			r.buf = frames
			continue
		}
		state, err := r.store.State(ctx, r.id)
		if err != nil {
			return Frame{}, err
		}
		if state != StateActive {
			// Frames appended just before Finish.
			if r.buf, err = r.store.Range(ctx, r.id, r.next); err != nil {
				return Frame{}, err
			}
			r.ended = true
			continue
		}
		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Frame{}, ctx.Err()
		case <-r.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (r *liveReader) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
}

type staticReader struct {
	frames [][]byte
	next   int
}

// StaticReader replays a fixed list of frames numbered from zero.
func StaticReader(frames ...[]byte) Reader {
	return &staticReader{frames: frames}
}

func (r *staticReader) Next(ctx context.Context) (Frame, error) {
	if r.next >= len(r.frames) {
		return Frame{}, io.EOF
	}
	f := Frame{Seq: int64(r.next), Data: r.frames[r.next]}
	r.next++
	return f, nil
}

func (r *staticReader) Close() {}
