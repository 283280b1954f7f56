package sqsqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// API is the subset of the SQS client used by the update queue.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// UpdateJob carries one raw Telegram update between the webhook and relay-worker.
// Keep it small; SQS has a 256KB message size limit.
type UpdateJob struct {
	UpdateID   int             `json:"updateId"`
	ExternalID int64           `json:"externalId,omitempty"`
	Update     json.RawMessage `json:"update"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

const defaultGroupBuckets = 1024

type Producer struct {
	SQS      API
	QueueURL string
	// GroupBuckets spreads FIFO message groups; updates of one user always share a group.
	GroupBuckets int
}

func (p *Producer) fifo() bool { return strings.HasSuffix(p.QueueURL, ".fifo") }

func (p *Producer) EnqueueUpdate(ctx context.Context, job UpdateJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	in := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: str(string(body)),
	}
	if p.fifo() {
		in.MessageGroupId = str(messageGroupIDBucketed(job.ExternalID, p.GroupBuckets))
		in.MessageDeduplicationId = str(strconv.Itoa(job.UpdateID))
	}
	_, err = p.SQS.SendMessage(ctx, in)
	return err
}

// messageGroupIDBucketed keeps per-user ordering on FIFO queues without one group per user.
func messageGroupIDBucketed(externalID int64, buckets int) string {
	if buckets <= 0 {
		buckets = defaultGroupBuckets
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatInt(externalID, 10)))
	return fmt.Sprintf("tg-%d", h.Sum32()%uint32(buckets))
}

func str(s string) *string { return &s }
