package queue

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type fakeAPI struct {
	sent     []sqs.SendMessageInput
	canned   []types.Message
	deleted  []sqs.DeleteMessageBatchInput
	failIDs  []string
}

func (f *fakeAPI) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, *params)
	return &sqs.SendMessageOutput{MessageId: aws.String("m1")}, nil
}

func (f *fakeAPI) ReceiveMessage(_ context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{Messages: f.canned}, nil
}

func (f *fakeAPI) DeleteMessageBatch(_ context.Context, params *sqs.DeleteMessageBatchInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error) {
	f.deleted = append(f.deleted, *params)
	out := &sqs.DeleteMessageBatchOutput{}
	for _, id := range f.failIDs {
		out.Failed = append(out.Failed, types.BatchResultErrorEntry{Id: aws.String(id)})
	}
	return out, nil
}

func TestSendAttributes(t *testing.T) {
	fake := &fakeAPI{}
	q := newFromAPI(fake)

	err := q.Send(context.Background(), "https://queue/retry", `{"granule_id":"g"}`, map[string]string{"FailureType": "RETRYABLE"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(fake.sent) != 1 {
		t.Fatalf("sends: %d", len(fake.sent))
	}
	attr, ok := fake.sent[0].MessageAttributes["FailureType"]
	if !ok || aws.ToString(attr.StringValue) != "RETRYABLE" || aws.ToString(attr.DataType) != "String" {
		t.Fatalf("attributes: %+v", fake.sent[0].MessageAttributes)
	}
}

func TestReceive(t *testing.T) {
	fake := &fakeAPI{canned: []types.Message{
		{MessageId: aws.String("a"), ReceiptHandle: aws.String("rh-a"), Body: aws.String("body-a")},
		{MessageId: aws.String("b"), ReceiptHandle: aws.String("rh-b"), Body: aws.String("body-b")},
	}}
	q := newFromAPI(fake)

	messages, err := q.Receive(context.Background(), "https://queue/retry", 10, time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(messages) != 2 || messages[0].ID != "a" || messages[1].Body != "body-b" {
		t.Fatalf("messages: %+v", messages)
	}
}

func TestDeleteBatchReportsFailures(t *testing.T) {
	fake := &fakeAPI{failIDs: []string{"b"}}
	q := newFromAPI(fake)

	failed, err := q.DeleteBatch(context.Background(), "https://queue/retry", []Message{
		{ID: "a", ReceiptHandle: "rh-a"},
		{ID: "b", ReceiptHandle: "rh-b"},
	})
	if err != nil {
		t.Fatalf("delete batch: %v", err)
	}
	if len(failed) != 1 || failed[0] != "b" {
		t.Fatalf("failed ids: %v", failed)
	}

	if len(fake.deleted) != 1 || len(fake.deleted[0].Entries) != 2 {
		t.Fatalf("delete input: %+v", fake.deleted)
	}
}

func TestDeleteBatchEmpty(t *testing.T) {
	fake := &fakeAPI{}
	q := newFromAPI(fake)
	failed, err := q.DeleteBatch(context.Background(), "https://queue/retry", nil)
	if err != nil || failed != nil {
		t.Fatalf("empty delete: failed=%v err=%v", failed, err)
	}
	if len(fake.deleted) != 0 {
		t.Fatalf("no call expected for empty batch")
	}
}
