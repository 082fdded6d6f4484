package tools

import (
	"context"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
)

// DataWriter receives the custom data events tools stream to the client.
type DataWriter interface {
	WriteData(kind string, content any)
}

// Session is the per-request state tools run against.
type Session struct {
	UserID int64
	ChatID string
	// Model generates document content and suggestions.
	Model model.BaseChatModel
	Data  DataWriter
}

type sessionContextKey struct{}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(Session)
	return s, ok
}

func (s Session) write(kind string, content any) {
	if s.Data != nil {
		s.Data.WriteData(kind, content)
	}
}

type rateLimiter struct {
	limit  int
	window time.Duration
	mu     sync.Mutex
	hits   map[string][]time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{limit: limit, window: window, hits: make(map[string][]time.Time)}
}

// Allow records a hit for key unless the window is already full.
func (l *rateLimiter) Allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	queue := l.hits[key]
	cutoff := now.Add(-l.window)
	idx := 0
	for _, t := range queue {
		if t.After(cutoff) {
			break
		}
		idx++
	}
	queue = queue[idx:]
	if len(queue) >= l.limit {
		l.hits[key] = queue
		return false
	}
	l.hits[key] = append(queue, now)
	return true
}
