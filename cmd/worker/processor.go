package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/imrishuroy/hope-orderflow/internal/jobs"
	"go.uber.org/zap"
)

// Executor runs one queued job. *jobs.Service satisfies it.
type Executor interface {
	Execute(ctx context.Context, d jobs.Descriptor) error
}

// Processor drains SQS batches into the job service.
type Processor struct {
	exec Executor
	log  *zap.Logger
}

func NewProcessor(exec Executor, log *zap.Logger) *Processor {
	return &Processor{exec: exec, log: log}
}

// Handle executes every record of the batch. Records whose outcome could not be recorded,
// or whose job another worker still holds, are reported back so SQS redelivers only those;
// once the job lease runs out a redelivery fails the job. Malformed bodies are dropped.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.process(ctx, rec); err != nil {
			p.log.Error("job message failed", zap.String("message_id", rec.MessageId), zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) process(ctx context.Context, rec events.SQSMessage) error {
	var d jobs.Descriptor
	if err := json.Unmarshal([]byte(rec.Body), &d); err != nil || d.JobID == "" {
		p.log.Warn("dropping malformed job message", zap.String("message_id", rec.MessageId), zap.String("body", rec.Body))
		return nil
	}
	if err := p.exec.Execute(ctx, d); err != nil {
		return fmt.Errorf("execute job %s: %w", d.JobID, err)
	}
	return nil
}
