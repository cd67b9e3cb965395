// Package notify hands off push notifications to an out-of-process delivery
// worker. Dispatch is best-effort: a failed send is logged and never rolls
// back or delays the state mutation that triggered it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultQueueName is the Redis list the delivery worker consumes.
var DefaultQueueName = "cluewords_notifications"

// Notification is the payload handed to the delivery worker.
type Notification struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Topic  string `json:"topic"`
	Badge  int    `json:"badge"`
	Sound  string `json:"sound"`
	Custom struct {
		GameID string `json:"gameId"`
	} `json:"custom"`
}

// Record is one queued delivery request: the notification plus the device
// tokens it targets.
type Record struct {
	Tokens       []string     `json:"tokens"`
	Notification Notification `json:"notification"`
	Timestamp    int64        `json:"timestamp"`
}

// Notifier delivers a notification to a set of device tokens. No return
// value is consumed by callers on the broadcast path.
type Notifier interface {
	Send(ctx context.Context, tokens []string, n Notification)
}

// Queue pushes notification records onto a Redis list for the delivery
// worker to drain.
type Queue struct {
	rdb   *redis.Client
	log   *logrus.Logger
	queue string
}

// NewQueue wires the queue notifier onto an existing Redis client. The list
// name comes from NOTIFY_QUEUE_NAME when set.
func NewQueue(rdb *redis.Client, log *logrus.Logger) *Queue {
	queue := DefaultQueueName
	if v := os.Getenv("NOTIFY_QUEUE_NAME"); v != "" {
		queue = v
	}
	return &Queue{rdb: rdb, log: log, queue: queue}
}

// Send serializes the record and pushes it onto the queue. Errors are
// logged and dropped.
func (q *Queue) Send(ctx context.Context, tokens []string, n Notification) {
	if len(tokens) == 0 {
		return
	}
	rec := Record{Tokens: tokens, Notification: n, Timestamp: time.Now().Unix()}
	data, err := json.Marshal(rec)
	if err != nil {
		q.log.Errorf("failed to marshal notification record: %v", err)
		return
	}
	if err := q.push(ctx, data); err != nil {
		q.log.Warnf("failed to enqueue notification for game %s: %v", n.Custom.GameID, err)
	}
}

func (q *Queue) push(ctx context.Context, data []byte) error {
	if err := q.rdb.RPush(ctx, q.queue, data).Err(); err != nil {
		return fmt.Errorf("rpush to %q: %w", q.queue, err)
	}
	return nil
}

// Noop discards every notification. Used in tests and when no delivery
// worker is configured.
type Noop struct{}

func (Noop) Send(context.Context, []string, Notification) {}
