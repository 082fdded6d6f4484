package chat

import (
	"database/sql"

	"go.uber.org/zap"

	"streamchat/internal/redis"
)

// Service persists chats, messages, stream records and the supporting
// catalog, document and persona rows.
type Service struct {
	db    *sql.DB
	cache *historyCache
	keys  *keyCipher
	log   *zap.Logger
}

type Option func(*Service)

// WithHistoryCache caches message histories in redis.
func WithHistoryCache(client *redis.Client) Option {
	return func(s *Service) {
		s.cache = newHistoryCache(client, s.log)
	}
}

// WithLogger sets the service logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log.Named("chat")
		}
	}
}

// WithKeyCipher enables decryption of provider api keys stored in the database.
func WithKeyCipher(raw string) Option {
	return func(s *Service) {
		c, err := newKeyCipher(raw)
		if err != nil {
			s.log.Warn("provider key cipher disabled", zap.Error(err))
			return
		}
		s.keys = c
	}
}

// NewService builds a new chat service.
func NewService(db *sql.DB, opts ...Option) *Service {
	s := &Service{db: db, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
