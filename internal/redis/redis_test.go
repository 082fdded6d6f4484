package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	ctx := context.Background()
	if err := c.Set(ctx, "k", "v", time.Second); !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected not initialized error, got %v", err)
	}
	if _, err := c.Get(ctx, "k"); !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected not initialized error, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client: %v", err)
	}
	if c.Raw() != nil {
		t.Fatalf("expected nil raw client")
	}
}

func TestNewRedisClientFromURLRejectsGarbage(t *testing.T) {
	if _, err := NewRedisClientFromURL("not a url"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestPublishSubscribe(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed tests")
	}
	client, err := NewRedisClientFromURL("redis://" + addr + "/0")
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sub, err := client.Subscribe(ctx, "test:pubsub")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscription confirm: %v", err)
	}
	if err := client.Publish(ctx, "test:pubsub", "hello"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case msg := <-sub.Channel():
		if msg.Payload != "hello" {
			t.Fatalf("unexpected payload %q", msg.Payload)
		}
	case <-ctx.Done():
		t.Fatalf("did not receive message")
	}
}
