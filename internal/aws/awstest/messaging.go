package awstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// FakeSQS is a single in-memory queue. Received messages stay invisible until deleted.
type FakeSQS struct {
	mu       sync.Mutex
	seq      int
	pending  []sqstypes.Message
	inflight map[string]sqstypes.Message

	Err     error
	Deleted []string
}

func NewFakeSQS() *FakeSQS {
	return &FakeSQS{inflight: map[string]sqstypes.Message{}}
}

// Len returns the number of messages not yet received.
func (f *FakeSQS) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

func (f *FakeSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.seq++
	id := fmt.Sprintf("msg-%d", f.seq)
	f.pending = append(f.pending, sqstypes.Message{
		MessageId:         stringPtr(id),
		Body:              stringPtr(*in.MessageBody),
		MessageAttributes: in.MessageAttributes,
	})
	return &sqs.SendMessageOutput{MessageId: stringPtr(id)}, nil
}

func (f *FakeSQS) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	n := int(in.MaxNumberOfMessages)
	if n <= 0 {
		n = 1
	}
	if n > len(f.pending) {
		n = len(f.pending)
	}
	out := &sqs.ReceiveMessageOutput{}
	for _, m := range f.pending[:n] {
		f.seq++
		handle := fmt.Sprintf("rh-%d", f.seq)
		m.ReceiptHandle = stringPtr(handle)
		f.inflight[handle] = m
		out.Messages = append(out.Messages, m)
	}
	f.pending = f.pending[n:]
	return out, nil
}

func (f *FakeSQS) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	delete(f.inflight, *in.ReceiptHandle)
	f.Deleted = append(f.Deleted, *in.ReceiptHandle)
	return &sqs.DeleteMessageOutput{}, nil
}

// FakeSNS records published messages.
type FakeSNS struct {
	mu        sync.Mutex
	Err       error
	Published []*sns.PublishInput
}

func (f *FakeSNS) Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.Published = append(f.Published, in)
	return &sns.PublishOutput{MessageId: stringPtr(fmt.Sprintf("sns-%d", len(f.Published)))}, nil
}

// Count returns the number of published messages.
func (f *FakeSNS) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Published)
}

// FakeCloudWatch records metric data.
type FakeCloudWatch struct {
	mu    sync.Mutex
	Err   error
	Input []*cloudwatch.PutMetricDataInput
}

func (f *FakeCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.Input = append(f.Input, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

// Names returns the metric names recorded so far, in order.
func (f *FakeCloudWatch) Names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, in := range f.Input {
		for _, d := range in.MetricData {
			names = append(names, *d.MetricName)
		}
	}
	return names
}
