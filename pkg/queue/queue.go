// Package queue hands execution jobs to the compute engine over a Redis
// list. The orchestrator pushes; the engine pops.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// QueueName is the Redis list shared with the compute engine.
const QueueName = "report_execution_queue"

// Queue pushes job envelopes onto the shared Redis list.
type Queue struct {
	client redis.UniversalClient
	name   string
	logger *slog.Logger
}

// Config carries the Redis connection parameters.
type Config struct {
	Addr     string
	Password string
	DB       int
	Name     string
}

// NewQueue connects to Redis and verifies the connection.
func NewQueue(ctx context.Context, logger *slog.Logger, config Config) (*Queue, error) {
	addr := config.Addr
	if addr == "" {
		addr = "localhost:6379"
	}

	name := config.Name
	if name == "" {
		name = QueueName
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.Password,
		DB:       config.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := client.Ping(pingCtx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", addr, "db", config.DB, "queue", name)

	return &Queue{
		client: client,
		name:   name,
		logger: logger.With("module", "queue", "queue", name),
	}, nil
}

// Push validates and appends an envelope to the queue.
func (q *Queue) Push(ctx context.Context, envelope *Envelope) error {
	err := envelope.Validate()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	err = q.client.RPush(ctx, q.name, payload).Err()
	if err != nil {
		return fmt.Errorf("failed to push envelope to queue: %w", err)
	}

	q.logger.InfoContext(ctx, "Pushed job envelope",
		"job_id", envelope.JobID,
		"execution_id", envelope.ExecutionID,
		"priority", envelope.Priority,
	)

	return nil
}

// Pop blocks up to timeout waiting for an envelope. It returns nil when
// the queue stays empty; the engine side uses this in its worker loop.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*Envelope, error) {
	result, err := q.client.BLPop(ctx, timeout, q.name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to pop envelope from queue: %w", err)
	}

	if len(result) < 2 {
		return nil, nil
	}

	var envelope Envelope

	err = json.Unmarshal([]byte(result[1]), &envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	return &envelope, nil
}

// Length returns the number of queued envelopes.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	length, err := q.client.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}

	return length, nil
}

// Close releases the Redis connection.
func (q *Queue) Close() error {
	err := q.client.Close()
	if err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	return nil
}
