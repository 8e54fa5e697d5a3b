package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/songzhibin97/process-engine/types"
)

const (
	instancePrefix = "instance:"
	eventsPrefix   = "instance_events:"
)

// RedisStorage is a Redis-backed implementation of Storage and EventStore.
// Instances are stored as JSON strings, events as JSON entries of a list per instance.
type RedisStorage struct {
	client *redis.Client
}

var (
	_ Storage    = (*RedisStorage)(nil)
	_ EventStore = (*RedisStorage)(nil)
)

// RedisOptions extends redis.Options with additional configuration.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
}

// NewRedisStorage creates a new RedisStorage instance with configurable options.
func NewRedisStorage(opts RedisOptions) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return &RedisStorage{client: client}, nil
}

// SaveInstance saves an instance to Redis.
func (s *RedisStorage) SaveInstance(ctx context.Context, inst types.Instance) error {
	return withContextError(ctx, func() error {
		data, err := json.Marshal(inst)
		if err != nil {
			return fmt.Errorf("failed to marshal instance %s: %v", inst.ID, err)
		}
		key := instancePrefix + inst.ID
		if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
			return fmt.Errorf("failed to set %s in Redis: %v", key, err)
		}
		return nil
	})
}

// GetInstance retrieves an instance from Redis.
func (s *RedisStorage) GetInstance(ctx context.Context, id string) (types.Instance, error) {
	return withContext(ctx, func() (types.Instance, error) {
		key := instancePrefix + id
		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return types.Instance{}, fmt.Errorf("%w: key=%s", ErrInstanceNotFound, key)
		} else if err != nil {
			return types.Instance{}, fmt.Errorf("failed to get %s from Redis: %v", key, err)
		}

		var inst types.Instance
		if err := json.Unmarshal(data, &inst); err != nil {
			return types.Instance{}, fmt.Errorf("failed to unmarshal %s: %v", key, err)
		}
		return inst, nil
	})
}

// ClearEnded removes instances whose process has ended. Their event lists are kept.
func (s *RedisStorage) ClearEnded(ctx context.Context) error {
	return withContextError(ctx, func() error {
		iter := s.client.Scan(ctx, 0, instancePrefix+"*", 100).Iterator()
		pipe := s.client.Pipeline()
		queued := 0
		for iter.Next(ctx) {
			key := iter.Val()
			data, err := s.client.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			} else if err != nil {
				return fmt.Errorf("failed to get %s: %v", key, err)
			}

			var inst types.Instance
			if err := json.Unmarshal(data, &inst); err != nil {
				return fmt.Errorf("failed to unmarshal %s: %v", key, err)
			}
			if isEnded(inst) {
				pipe.Del(ctx, key)
				queued++
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to scan instance keys: %v", err)
		}
		if queued == 0 {
			return nil
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to execute pipeline for deletion: %v", err)
		}
		return nil
	})
}

// AppendEvents appends events to the per-instance lists in a single transaction.
func (s *RedisStorage) AppendEvents(ctx context.Context, events []types.InstanceEvent) error {
	return withContextError(ctx, func() error {
		if len(events) == 0 {
			return nil
		}
		pipe := s.client.TxPipeline()
		for _, ev := range events {
			data, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("failed to marshal event %d: %v", ev.ID, err)
			}
			pipe.RPush(ctx, eventsPrefix+ev.InstanceID, data)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to append events: %v", err)
		}
		return nil
	})
}

// ListEvents returns the events of an instance in append order.
func (s *RedisStorage) ListEvents(ctx context.Context, instanceID string) ([]types.InstanceEvent, error) {
	return withContext(ctx, func() ([]types.InstanceEvent, error) {
		key := eventsPrefix + instanceID
		raw, err := s.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %v", key, err)
		}
		out := make([]types.InstanceEvent, 0, len(raw))
		for _, item := range raw {
			var ev types.InstanceEvent
			if err := json.Unmarshal([]byte(item), &ev); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event of %s: %v", instanceID, err)
			}
			out = append(out, ev)
		}
		return out, nil
	})
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
