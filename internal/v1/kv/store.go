// Package kv wraps the shared Redis-backed key-value store used as Tier-2
// cache storage, presence/notification state, and the cross-instance
// broadcast bridge for the collaboration hub.
//
// A nil *Store is valid and turns every operation into a no-op: this lets
// callers run in single-instance mode (no shared KV configured) without
// branching on a boolean everywhere, the same pattern the teacher's
// bus.Service used for optional Redis pub/sub.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/artifactor-hq/collab-core/internal/v1/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("kv: key not found")

// PubSubMessage is the envelope published on broadcast channels.
type PubSubMessage struct {
	Channel  string          `json:"channel"`
	Event    string          `json:"event"`
	Payload  json.RawMessage `json:"payload"`
	SenderID string          `json:"senderId,omitempty"`
}

// Store holds the Redis client and its circuit breaker.
type Store struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// NewStore dials Redis and verifies connectivity with a PING.
func NewStore(addr, password string) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     20,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to kv store: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "kv",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var v float64
			switch to {
			case gobreaker.StateClosed:
				v = 0
			case gobreaker.StateOpen:
				v = 1
			case gobreaker.StateHalfOpen:
				v = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("kv").Set(v)
		},
	}

	return &Store{client: rdb, cb: gobreaker.NewCircuitBreaker(st)}, nil
}

// Client exposes the underlying redis.Client for callers that need raw access (health checks).
func (s *Store) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

func (s *Store) execute(ctx context.Context, op string, fn func() (any, error)) (any, error) {
	start := time.Now()
	res, err := s.cb.Execute(fn)
	metrics.KVOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerFailures.WithLabelValues("kv").Inc()
			metrics.KVOperationsTotal.WithLabelValues(op, "breaker_open").Inc()
			return nil, nil
		}
		metrics.KVOperationsTotal.WithLabelValues(op, "error").Inc()
		return nil, err
	}
	metrics.KVOperationsTotal.WithLabelValues(op, "ok").Inc()
	return res, nil
}

// Get returns the raw bytes stored at key, or ErrNotFound if absent/expired.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if s == nil || s.client == nil {
		return nil, ErrNotFound
	}

	res, err := s.execute(ctx, "get", func() (any, error) {
		return s.client.Get(ctx, key).Bytes()
	})
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if res == nil {
		return nil, ErrNotFound
	}
	return res.([]byte), nil
}

// Set writes value at key with an optional TTL (zero means no expiry).
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.execute(ctx, "set", func() (any, error) {
		return nil, s.client.Set(ctx, key, value, ttl).Err()
	})
	return err
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.execute(ctx, "delete", func() (any, error) {
		return nil, s.client.Del(ctx, key).Err()
	})
	return err
}

// ScanKeys returns all keys matching pattern. Used for presence/cache sweeps;
// not intended for hot paths since SCAN iterates the whole keyspace slice.
func (s *Store) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}
	res, err := s.execute(ctx, "scan", func() (any, error) {
		var keys []string
		iter := s.client.Scan(ctx, 0, pattern, 200).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		return keys, iter.Err()
	})
	if err != nil || res == nil {
		return nil, err
	}
	return res.([]string), nil
}

// SetAdd adds member to the Redis set at key, used for cache tag indices and presence indices.
func (s *Store) SetAdd(ctx context.Context, key, member string) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.execute(ctx, "sadd", func() (any, error) {
		return nil, s.client.SAdd(ctx, key, member).Err()
	})
	return err
}

// SetRem removes member from the set at key.
func (s *Store) SetRem(ctx context.Context, key, member string) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.execute(ctx, "srem", func() (any, error) {
		return nil, s.client.SRem(ctx, key, member).Err()
	})
	return err
}

// SetMembers returns all members of the set at key.
func (s *Store) SetMembers(ctx context.Context, key string) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}
	res, err := s.execute(ctx, "smembers", func() (any, error) {
		return s.client.SMembers(ctx, key).Result()
	})
	if err != nil || res == nil {
		return nil, err
	}
	return res.([]string), nil
}

// Publish broadcasts payload (already JSON-encoded) on channel.
func (s *Store) Publish(ctx context.Context, channel string, msg PubSubMessage) error {
	if s == nil || s.client == nil {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("kv: marshal pubsub envelope: %w", err)
	}
	_, err = s.execute(ctx, "publish", func() (any, error) {
		return nil, s.client.Publish(ctx, channel, data).Err()
	})
	return err
}

// Subscribe starts a background goroutine delivering messages on channel to handler
// until ctx is cancelled. Safe to call on a nil Store (no-op).
func (s *Store) Subscribe(ctx context.Context, channel string, handler func(PubSubMessage)) {
	if s == nil || s.client == nil {
		return
	}

	sub := s.client.Subscribe(ctx, channel)
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var payload PubSubMessage
				if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
					continue
				}
				handler(payload)
			}
		}
	}()
}

// Ping verifies connectivity, used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.execute(ctx, "ping", func() (any, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	return err
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
