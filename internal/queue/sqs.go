package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Compile-time check that SQSQueue implements Queue.
var _ Queue = (*SQSQueue)(nil)

// SQS limits.
const (
	sqsMaxMessages       = 10
	sqsMaxVisibilitySecs = 12 * 60 * 60
)

// sqsAPI is the subset of the SQS client used here.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSConfig holds the configuration for an SQS queue client.
type SQSConfig struct {
	Region          string
	Endpoint        string // Optional: for LocalStack or ElasticMQ
	AccessKeyID     string // Optional
	SecretAccessKey string // Optional
}

// NewSQSClient creates an SQS client from cfg.
func NewSQSClient(ctx context.Context, cfg SQSConfig) (*sqs.Client, error) {
	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*sqs.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	return sqs.NewFromConfig(awsCfg, clientOpts...), nil
}

// SQSQueue implements Queue on an SQS queue. The lease is the SQS
// visibility timeout and the delivery count is ApproximateReceiveCount.
type SQSQueue struct {
	client   sqsAPI
	queueURL string
	now      func() time.Time
}

// NewSQSQueue creates an SQSQueue for queueURL.
func NewSQSQueue(client *sqs.Client, queueURL string) *SQSQueue {
	return newSQSQueue(client, queueURL)
}

func newSQSQueue(client sqsAPI, queueURL string) *SQSQueue {
	return &SQSQueue{client: client, queueURL: queueURL, now: time.Now}
}

// Receive leases up to maxMessages messages with a visibility timeout of lease.
func (q *SQSQueue) Receive(ctx context.Context, maxMessages int, lease time.Duration) ([]Message, error) {
	maxMessages = min(max(maxMessages, 1), sqsMaxMessages)
	visibility := min(max(int(lease/time.Second), 0), sqsMaxVisibilitySecs)

	receivedAt := q.now()
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(maxMessages), // #nosec G115 - clamped to 1..10
		VisibilityTimeout:   int32(visibility),  // #nosec G115 - clamped to SQS maximum
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive: %w", err)
	}

	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, Message{
			ID:            aws.ToString(m.MessageId),
			Body:          []byte(aws.ToString(m.Body)),
			Handle:        aws.ToString(m.ReceiptHandle),
			DeliveryCount: receiveCount(m.Attributes),
			LeaseExpiry:   receivedAt.Add(time.Duration(visibility) * time.Second),
		})
	}
	return msgs, nil
}

// Delete removes the message identified by its receipt handle.
func (q *SQSQueue) Delete(ctx context.Context, handle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(handle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete: %w", err)
	}
	return nil
}

// Send enqueues body.
func (q *SQSQueue) Send(ctx context.Context, body []byte) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("sqs send: %w", err)
	}
	return nil
}

// receiveCount reads ApproximateReceiveCount, defaulting to a first delivery.
func receiveCount(attrs map[string]string) int {
	n, err := strconv.Atoi(attrs[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	if err != nil || n < 1 {
		return 1
	}
	return n
}
