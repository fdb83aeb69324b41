// Package jobs runs deferred work (receipts, inventory reconciliation) on a pool of
// workers and records each job's lifecycle in a durable status store.
package jobs

import "time"

// Type names a job handler.
type Type string

const (
	TypeSendReceipt   Type = "send_receipt"
	TypeInventorySync Type = "inventory_sync"
)

// Status is a job lifecycle state: queued -> running -> done | failed.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Job is the shape persisted in the jobs DynamoDB table.
type Job struct {
	JobID       string            `dynamodbav:"job_id" json:"job_id"` // PK
	JobType     Type              `dynamodbav:"job_type" json:"job_type"`
	Status      Status            `dynamodbav:"status" json:"status"`
	OrderID     string            `dynamodbav:"order_id" json:"order_id"`
	Metadata    map[string]string `dynamodbav:"metadata,omitempty" json:"metadata,omitempty"`
	Error       string            `dynamodbav:"error,omitempty" json:"error,omitempty"`
	CreatedAt   time.Time         `dynamodbav:"created_at" json:"created_at"`
	StartedAt   *time.Time        `dynamodbav:"started_at,omitempty" json:"started_at,omitempty"`
	CompletedAt *time.Time        `dynamodbav:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// Descriptor returns the queue payload for j.
func (j *Job) Descriptor() Descriptor {
	return Descriptor{JobID: j.JobID, JobType: j.JobType, OrderID: j.OrderID, Metadata: j.Metadata}
}

// Descriptor is what travels on a Queue.
type Descriptor struct {
	JobID    string            `json:"job_id"`
	JobType  Type              `json:"job_type"`
	OrderID  string            `json:"order_id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
