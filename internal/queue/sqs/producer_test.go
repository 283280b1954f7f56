package sqsqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

func TestMessageGroupIDBucketed(t *testing.T) {
	got1 := messageGroupIDBucketed(12345, 2000)
	got2 := messageGroupIDBucketed(12345, 2000)
	if got1 != got2 {
		t.Fatalf("expected stable group id, got %q vs %q", got1, got2)
	}
	if len(got1) == 0 {
		t.Fatalf("expected non-empty group id")
	}

	// buckets<=0 should use default.
	got3 := messageGroupIDBucketed(12345, 0)
	if got3 == "" {
		t.Fatalf("expected non-empty group id for default buckets")
	}
}

type fakeSQS struct {
	mu      sync.Mutex
	sent    []*sqs.SendMessageInput
	pending []types.Message
	deleted []string
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	msgs := f.pending
	f.pending = nil
	f.mu.Unlock()
	if len(msgs) == 0 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, *in.ReceiptHandle)
	return &sqs.DeleteMessageOutput{}, nil
}

func TestEnqueueUpdateFIFO(t *testing.T) {
	fake := &fakeSQS{}
	p := &Producer{SQS: fake, QueueURL: "http://localhost:4566/000000000000/updates.fifo"}
	err := p.EnqueueUpdate(context.Background(), UpdateJob{UpdateID: 10, ExternalID: 42, Update: json.RawMessage(`{"update_id":10}`)})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	in := fake.sent[0]
	if in.MessageGroupId == nil || in.MessageDeduplicationId == nil || *in.MessageDeduplicationId != "10" {
		t.Fatalf("fifo attributes missing: %+v", in)
	}
}

func TestEnqueueUpdateStandardQueue(t *testing.T) {
	fake := &fakeSQS{}
	p := &Producer{SQS: fake, QueueURL: "http://localhost:4566/000000000000/updates"}
	if err := p.EnqueueUpdate(context.Background(), UpdateJob{UpdateID: 1, Update: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if fake.sent[0].MessageGroupId != nil {
		t.Fatalf("standard queues must not carry a group id")
	}
}

func body(s string) *string { return &s }

func TestPollConcurrentDeletesOnlyHandledAndPoison(t *testing.T) {
	good, _ := json.Marshal(UpdateJob{UpdateID: 1, Update: json.RawMessage(`{"update_id":1}`)})
	bad, _ := json.Marshal(UpdateJob{UpdateID: 2, Update: json.RawMessage(`{"update_id":2}`)})
	fake := &fakeSQS{pending: []types.Message{
		{Body: body(string(good)), ReceiptHandle: body("good")},
		{Body: body(string(bad)), ReceiptHandle: body("failing")},
		{Body: body("{not json"), ReceiptHandle: body("poison")},
		{ReceiptHandle: body("empty")},
	}}
	c := &Consumer{SQS: fake, QueueURL: "q"}

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	handled := 0
	done := make(chan error, 1)
	go func() {
		done <- c.PollConcurrent(ctx, 2, func(_ context.Context, job UpdateJob) error {
			mu.Lock()
			handled++
			mu.Unlock()
			if job.UpdateID == 2 {
				return errors.New("transient")
			}
			return nil
		})
	}()

	deadline := time.After(2 * time.Second)
	for {
		fake.mu.Lock()
		n := len(fake.deleted)
		fake.mu.Unlock()
		mu.Lock()
		h := handled
		mu.Unlock()
		if n == 3 && h == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out: deleted=%d handled=%d", n, h)
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	for _, h := range fake.deleted {
		if h == "failing" {
			t.Fatalf("failed job must stay on the queue")
		}
	}
}
