package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/imrishuroy/hope-orderflow/internal/aws"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// ErrQueueClosed is returned by Push after Close.
var ErrQueueClosed = errors.New("queue closed")

// Queue hands job descriptors from request handlers to workers.
type Queue interface {
	Push(ctx context.Context, d Descriptor) error
	// Pop blocks until a descriptor is available. It returns false once the queue is
	// closed or ctx is done; descriptors still queued at that point are left behind.
	Pop(ctx context.Context) (Descriptor, bool)
	Close()
}

// MemoryQueue is an unbounded in-process FIFO safe for many producers and consumers.
type MemoryQueue struct {
	mu     sync.Mutex
	items  []Descriptor
	ready  chan struct{}
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (q *MemoryQueue) Push(ctx context.Context, d Descriptor) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	q.mu.Lock()
	q.items = append(q.items, d)
	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *MemoryQueue) Pop(ctx context.Context) (Descriptor, bool) {
	for {
		if q.closed.Load() {
			return Descriptor{}, false
		}

		q.mu.Lock()
		if len(q.items) > 0 {
			d := q.items[0]
			q.items[0] = Descriptor{}
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				// pass the wakeup on to the next waiting consumer
				q.signal()
			}
			return d, true
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-q.done:
			return Descriptor{}, false
		case <-ctx.Done():
			return Descriptor{}, false
		}
	}
}

func (q *MemoryQueue) Close() {
	q.once.Do(func() {
		q.closed.Store(true)
		close(q.done)
	})
}

// Len returns the number of descriptors waiting.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *MemoryQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// SQSQueue carries descriptors through an SQS queue. A message is deleted as soon as it
// is popped; the durable job status covers anything lost after that point.
type SQSQueue struct {
	pub          *aws.Publisher
	log          *zap.Logger
	waitSeconds  int32
	pollInterval time.Duration
	done         chan struct{}
	closed       atomic.Bool
	once         sync.Once
}

// NewSQSQueue long-polls for up to waitSeconds per receive. With waitSeconds of 0 an empty
// receive is followed by a short pause instead.
func NewSQSQueue(pub *aws.Publisher, log *zap.Logger, waitSeconds int32) *SQSQueue {
	return &SQSQueue{
		pub:          pub,
		log:          log,
		waitSeconds:  waitSeconds,
		pollInterval: 100 * time.Millisecond,
		done:         make(chan struct{}),
	}
}

func (q *SQSQueue) Push(ctx context.Context, d Descriptor) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	body, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return q.pub.SendMessage(ctx, string(body), map[string]string{"job_type": string(d.JobType)})
}

func (q *SQSQueue) Pop(ctx context.Context) (Descriptor, bool) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-q.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if q.closed.Load() || ctx.Err() != nil {
			return Descriptor{}, false
		}

		msgs, err := q.pub.Receive(ctx, 1, q.waitSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return Descriptor{}, false
			}
			q.log.Warn("receive jobs failed", zap.Error(err))
			q.pause(ctx, time.Second)
			continue
		}
		if len(msgs) == 0 {
			if q.waitSeconds == 0 {
				q.pause(ctx, q.pollInterval)
			}
			continue
		}

		m := msgs[0]
		if err := q.pub.Delete(ctx, m.ReceiptHandle); err != nil {
			q.log.Warn("delete job message failed", zap.Error(err))
		}
		var d Descriptor
		if err := json.Unmarshal([]byte(m.Body), &d); err != nil {
			q.log.Error("dropping malformed job message", zap.String("body", m.Body), zap.Error(err))
			continue
		}
		return d, true
	}
}

func (q *SQSQueue) Close() {
	q.once.Do(func() {
		q.closed.Store(true)
		close(q.done)
	})
}

func (q *SQSQueue) pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
