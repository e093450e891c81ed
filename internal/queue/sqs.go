// Package queue wraps the work queue used for retry routing and event
// delivery: at-least-once, visibility-timeout based, with per-message
// success reporting on batch deletes so only failed messages redeliver.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// sqs.ReceiveMessage accepts at most 10 messages per call.
const maxReceiveBatch = 10

type api interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

// Message is one received queue message.
type Message struct {
	ID            string
	ReceiptHandle string
	Body          string
}

// Queue is a thin client over the queue service; queue URLs are passed per
// call since one client serves several queues.
type Queue struct {
	api api
}

// New wraps an SDK client.
func New(client *sqs.Client) *Queue {
	return &Queue{api: client}
}

func newFromAPI(a api) *Queue {
	return &Queue{api: a}
}

// Send enqueues one message with string attributes.
func (q *Queue) Send(ctx context.Context, queueURL, body string, attrs map[string]string) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(body),
	}
	if len(attrs) > 0 {
		input.MessageAttributes = make(map[string]types.MessageAttributeValue, len(attrs))
		for name, value := range attrs {
			input.MessageAttributes[name] = types.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(value),
			}
		}
	}
	if _, err := q.api.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send to %s: %w", queueURL, err)
	}
	return nil
}

// Receive long-polls up to max messages.
func (q *Queue) Receive(ctx context.Context, queueURL string, max int, wait time.Duration) ([]Message, error) {
	if max <= 0 || max > maxReceiveBatch {
		max = maxReceiveBatch
	}
	resp, err := q.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(queueURL),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     int32(wait / time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", queueURL, err)
	}
	messages := make([]Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		messages = append(messages, Message{
			ID:            aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          aws.ToString(m.Body),
		})
	}
	return messages, nil
}

// DeleteBatch deletes processed messages, returning the IDs of any the
// service failed to delete. Failed deletes redeliver after the visibility
// timeout; they are reported, not retried here.
func (q *Queue) DeleteBatch(ctx context.Context, queueURL string, messages []Message) ([]string, error) {
	if len(messages) == 0 {
		return nil, nil
	}
	entries := make([]types.DeleteMessageBatchRequestEntry, 0, len(messages))
	for i := range messages {
		entries = append(entries, types.DeleteMessageBatchRequestEntry{
			Id:            aws.String(messages[i].ID),
			ReceiptHandle: aws.String(messages[i].ReceiptHandle),
		})
	}
	resp, err := q.api.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: aws.String(queueURL),
		Entries:  entries,
	})
	if err != nil {
		return nil, fmt.Errorf("delete batch from %s: %w", queueURL, err)
	}
	var failed []string
	for _, f := range resp.Failed {
		failed = append(failed, aws.ToString(f.Id))
	}
	return failed, nil
}
