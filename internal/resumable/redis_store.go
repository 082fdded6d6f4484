package resumable

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"streamchat/internal/redis"
)

const (
	stateActive = "active"
	stateDone   = "done"
)

// RedisStore keeps each stream as a list of frames plus a state key, and
// wakes readers through a pub/sub channel.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewRedisStore(client *redis.Client, ttl time.Duration, log *zap.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStore{client: client, ttl: ttl, log: log}
}

func framesKey(id string) string  { return "stream:" + id + ":frames" }
func stateKey(id string) string   { return "stream:" + id + ":state" }
func leaseKey(id string) string   { return "stream:" + id + ":lease" }
func notifyChan(id string) string { return "stream:" + id + ":notify" }

func (s *RedisStore) Create(ctx context.Context, id string) error {
	_, err := s.client.Raw().TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, framesKey(id))
		p.Set(ctx, stateKey(id), stateActive, s.ttl)
		p.Set(ctx, leaseKey(id), 1, leaseTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) Append(ctx context.Context, id string, frame []byte) (int64, error) {
	var length *goredis.IntCmd
	_, err := s.client.Raw().TxPipelined(ctx, func(p goredis.Pipeliner) error {
		length = p.RPush(ctx, framesKey(id), frame)
		p.Expire(ctx, framesKey(id), s.ttl)
		p.Expire(ctx, stateKey(id), s.ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("append frame to %s: %w", id, err)
	}
	seq := length.Val() - 1
	if err := s.client.Publish(ctx, notifyChan(id), seq); err != nil {
		s.log.Debug("notify readers", zap.String("stream_id", id), zap.Error(err))
	}
	return seq, nil
}

func (s *RedisStore) Heartbeat(ctx context.Context, id string) error {
	if err := s.client.Set(ctx, leaseKey(id), 1, leaseTTL); err != nil {
		return fmt.Errorf("heartbeat stream %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) Finish(ctx context.Context, id string) error {
	_, err := s.client.Raw().TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, stateKey(id), stateDone, s.ttl)
		p.Del(ctx, leaseKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("finish stream %s: %w", id, err)
	}
	if err := s.client.Publish(ctx, notifyChan(id), stateDone); err != nil {
		s.log.Debug("notify readers", zap.String("stream_id", id), zap.Error(err))
	}
	return nil
}

func (s *RedisStore) State(ctx context.Context, id string) (State, error) {
	var (
		state *goredis.StringCmd
		lease *goredis.IntCmd
	)
	_, err := s.client.Raw().Pipelined(ctx, func(p goredis.Pipeliner) error {
		state = p.Get(ctx, stateKey(id))
		lease = p.Exists(ctx, leaseKey(id))
		return nil
	})
	if errors.Is(err, goredis.Nil) {
		err = nil
	}
	if err != nil {
		return StateAbsent, fmt.Errorf("read stream state %s: %w", id, err)
	}
	v, err := state.Result()
	if errors.Is(err, goredis.Nil) {
		return StateAbsent, nil
	}
	if err != nil {
		return StateAbsent, fmt.Errorf("read stream state %s: %w", id, err)
	}
	// An active stream whose lease lapsed lost its producer.
	if v == stateDone || lease.Val() == 0 {
		return StateDone, nil
	}
	return StateActive, nil
}

func (s *RedisStore) Range(ctx context.Context, id string, from int64) ([][]byte, error) {
	if from < 0 {
		from = 0
	}
	vals, err := s.client.Raw().LRange(ctx, framesKey(id), from, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read frames of %s: %w", id, err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (s *RedisStore) Subscribe(ctx context.Context, id string) (<-chan struct{}, func(), error) {
	pubsub, err := s.client.Subscribe(ctx, notifyChan(id))
	if err != nil {
		return nil, nil, err
	}
	// Wait for the subscription to be confirmed so no publish is missed
	// between here and the reader's first Range.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", id, err)
	}
	wake := make(chan struct{}, 1)
	go func() {
		for range pubsub.Channel() {
			signal(wake)
		}
	}()
	return wake, func() { _ = pubsub.Close() }, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
