package resumable

import (
	"context"
	"errors"
	"time"
)

// leaseTTL is how long an active stream stays active without a heartbeat
// from its producer. Past it the stream is reported done.
const leaseTTL = 30 * time.Second

// State is the lifecycle position of a stream in the store.
type State int

const (
	StateAbsent State = iota
	StateActive
	StateDone
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDone:
		return "done"
	default:
		return "absent"
	}
}

// ErrStreamFinished is returned by Resume when the stream already completed.
var ErrStreamFinished = errors.New("stream already finished")

// Store keeps the frames of a stream so they can be replayed by later readers.
type Store interface {
	Create(ctx context.Context, id string) error
	// Append stores frame and returns its sequence number.
	Append(ctx context.Context, id string, frame []byte) (int64, error)
	Finish(ctx context.Context, id string) error
	// Heartbeat extends the producer lease of an active stream.
	Heartbeat(ctx context.Context, id string) error
	State(ctx context.Context, id string) (State, error)
	// Range returns the frames from sequence number from onward.
	Range(ctx context.Context, id string, from int64) ([][]byte, error)
	// Subscribe signals on the returned channel whenever the stream changes.
	Subscribe(ctx context.Context, id string) (<-chan struct{}, func(), error)
	Close() error
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
