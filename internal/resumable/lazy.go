package resumable

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"streamchat/internal/config"
	"streamchat/internal/redis"
)

// Lazy builds the Context on first use. A failed build disables
// resumability for the life of the process.
type Lazy struct {
	once  sync.Once
	build func() (*Context, error)
	ctx   *Context
	log   *zap.Logger
}

func NewLazy(build func() (*Context, error), log *zap.Logger) *Lazy {
	if log == nil {
		log = zap.NewNop()
	}
	return &Lazy{build: build, log: log}
}

// Get returns the shared Context, or nil when resumability is disabled.
func (l *Lazy) Get() *Context {
	if l == nil {
		return nil
	}
	l.once.Do(func() {
		c, err := l.build()
		if err != nil {
			l.log.Info("resumable streams disabled", zap.Error(err))
			return
		}
		l.ctx = c
	})
	return l.ctx
}

// Close releases the Context if one was built.
func (l *Lazy) Close() error {
	if l == nil {
		return nil
	}
	// Prevent a later Get from building a fresh store.
	l.once.Do(func() {})
	if l.ctx == nil {
		return nil
	}
	return l.ctx.Close()
}

// FromConfig returns a Lazy backed by Redis, or by process memory when the
// URL is memory://.
func FromConfig(cfg config.ResumableStreamConfig, log *zap.Logger, opts ...Option) *Lazy {
	if log == nil {
		log = zap.NewNop()
	}
	ttl := time.Duration(cfg.TTL) * time.Minute
	opts = append([]Option{WithLogger(log)}, opts...)
	return NewLazy(func() (*Context, error) {
		u, err := checkURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		if u.Scheme == "memory" {
			return NewContext(NewMemoryStore(ttl), opts...), nil
		}
		client, err := redis.NewRedisClientFromURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return NewContext(NewRedisStore(client, ttl, log), opts...), nil
	}, log)
}

var placeholderMarkers = []string{"****", "your-", "<", ">", "changeme", "example"}

type disabledError string

func (e disabledError) Error() string { return string(e) }

func checkURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, disabledError("no redis url configured")
	}
	lower := strings.ToLower(raw)
	for _, m := range placeholderMarkers {
		if strings.Contains(lower, m) {
			return nil, disabledError("redis url is a placeholder")
		}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, disabledError("redis url is invalid: " + err.Error())
	}
	switch u.Scheme {
	case "redis", "rediss", "memory":
		return u, nil
	default:
		return nil, disabledError("unsupported redis url scheme " + u.Scheme)
	}
}
