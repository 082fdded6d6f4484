package resumable

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryStream struct {
	frames    [][]byte
	done       bool
	expiresAt  time.Time
	leaseUntil time.Time
	waiters   map[int]chan struct{}
}

// MemoryStore is a process-local Store. Streams cannot be resumed across
// instances with it.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	streams map[string]*memoryStream
	nextID  int
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &MemoryStore{ttl: ttl, streams: make(map[string]*memoryStream), now: time.Now}
}

// live returns the stream if it exists and has not expired. Caller holds mu.
func (s *MemoryStore) live(id string) *memoryStream {
	st, ok := s.streams[id]
	if !ok {
		return nil
	}
	if s.now().After(st.expiresAt) {
		delete(s.streams, id)
		return nil
	}
	return st
}

func (s *MemoryStore) Create(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.live(id)
	if st == nil {
		st = &memoryStream{waiters: make(map[int]chan struct{})}
		s.streams[id] = st
	}
	st.frames = nil
	st.done = false
	st.expiresAt = s.now().Add(s.ttl)
	st.leaseUntil = s.now().Add(leaseTTL)
	return nil
}

func (s *MemoryStore) Heartbeat(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.live(id)
	if st == nil {
		return fmt.Errorf("heartbeat on unknown stream %s", id)
	}
	st.leaseUntil = s.now().Add(leaseTTL)
	return nil
}

func (s *MemoryStore) Append(ctx context.Context, id string, frame []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.live(id)
	if st == nil {
		return 0, fmt.Errorf("append to unknown stream %s", id)
	}
	st.frames = append(st.frames, append([]byte(nil), frame...))
	st.expiresAt = s.now().Add(s.ttl)
	for _, w := range st.waiters {
		signal(w)
	}
	return int64(len(st.frames) - 1), nil
}

func (s *MemoryStore) Finish(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.live(id)
	if st == nil {
		return nil
	}
	st.done = true
	for _, w := range st.waiters {
		signal(w)
	}
	return nil
}

func (s *MemoryStore) State(ctx context.Context, id string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.live(id)
	switch {
	case st == nil:
		return StateAbsent, nil
	case st.done, s.now().After(st.leaseUntil):
		return StateDone, nil
	default:
		return StateActive, nil
	}
}

func (s *MemoryStore) Range(ctx context.Context, id string, from int64) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.live(id)
	if st == nil || from >= int64(len(st.frames)) {
		return nil, nil
	}
	if from < 0 {
		from = 0
	}
	out := make([][]byte, len(st.frames)-int(from))
	copy(out, st.frames[from:])
	return out, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, id string) (<-chan struct{}, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{}, 1)
	st := s.live(id)
	if st == nil {
		return ch, func() {}, nil
	}
	key := s.nextID
	s.nextID++
	st.waiters[key] = ch
	return ch, func() {
		s.mu.Lock()
		delete(st.waiters, key)
		s.mu.Unlock()
	}, nil
}

func (s *MemoryStore) Close() error { return nil }
