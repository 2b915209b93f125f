package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"
)

// DeadLetterEntry records a message that was given up on.
type DeadLetterEntry struct {
	MessageID     string    `json:"messageId"`
	Body          string    `json:"body"`
	DeliveryCount int       `json:"deliveryCount"`
	Reason        string    `json:"reason"`
	FailedAt      time.Time `json:"failedAt"`
}

// DeadLetter receives messages that exceeded their delivery budget.
type DeadLetter interface {
	Send(ctx context.Context, entry DeadLetterEntry) error
}

// Compile-time checks.
var (
	_ DeadLetter = (*SQSDeadLetter)(nil)
	_ DeadLetter = (*RedisDeadLetter)(nil)
	_ DeadLetter = (*NopDeadLetter)(nil)
)

// SQSDeadLetter forwards entries to a separate SQS queue.
type SQSDeadLetter struct {
	client   sqsAPI
	queueURL string
}

// NewSQSDeadLetter creates an SQSDeadLetter for queueURL.
func NewSQSDeadLetter(client *sqs.Client, queueURL string) *SQSDeadLetter {
	return &SQSDeadLetter{client: client, queueURL: queueURL}
}

// Send publishes entry as JSON.
func (d *SQSDeadLetter) Send(ctx context.Context, entry DeadLetterEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	_, err = d.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.queueURL),
		MessageBody: aws.String(string(data)),
	})
	if err != nil {
		return fmt.Errorf("sqs dead letter send: %w", err)
	}
	return nil
}

// redisPusher is the subset of the redis client used here.
type redisPusher interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisDeadLetter appends entries to a Redis list.
type RedisDeadLetter struct {
	client redisPusher
	key    string
}

// NewRedisDeadLetter creates a RedisDeadLetter writing to the list at key.
func NewRedisDeadLetter(client *redis.Client, key string) *RedisDeadLetter {
	return &RedisDeadLetter{client: client, key: key}
}

// Send pushes entry as JSON onto the list.
func (d *RedisDeadLetter) Send(ctx context.Context, entry DeadLetterEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := d.client.RPush(ctx, d.key, data).Err(); err != nil {
		return fmt.Errorf("redis dead letter push: %w", err)
	}
	return nil
}

// NopDeadLetter only logs the entry. Used when no dead-letter sink is configured.
type NopDeadLetter struct {
	logger *slog.Logger
}

// NewNopDeadLetter creates a NopDeadLetter.
func NewNopDeadLetter(logger *slog.Logger) *NopDeadLetter {
	return &NopDeadLetter{logger: logger}
}

// Send logs entry and reports success.
func (d *NopDeadLetter) Send(_ context.Context, entry DeadLetterEntry) error {
	d.logger.Warn("dropping message after delivery limit",
		"message_id", entry.MessageID,
		"delivery_count", entry.DeliveryCount,
		"reason", entry.Reason,
	)
	return nil
}
