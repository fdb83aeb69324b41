package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/imrishuroy/hope-orderflow/internal/aws/awstest"
	"github.com/imrishuroy/hope-orderflow/internal/inventory"
	"github.com/imrishuroy/hope-orderflow/internal/jobs"
	"github.com/imrishuroy/hope-orderflow/internal/money"
	"github.com/imrishuroy/hope-orderflow/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeExecutor struct {
	seen []jobs.Descriptor
	err  error
}

func (f *fakeExecutor) Execute(ctx context.Context, d jobs.Descriptor) error {
	f.seen = append(f.seen, d)
	return f.err
}

func message(t *testing.T, id string, d jobs.Descriptor) events.SQSMessage {
	t.Helper()
	body, err := json.Marshal(d)
	require.NoError(t, err)
	return events.SQSMessage{MessageId: id, Body: string(body)}
}

func TestHandle_ReportsOnlyFailedRecords(t *testing.T) {
	exec := &fakeExecutor{}
	p := NewProcessor(exec, zap.NewNop())

	resp, err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		message(t, "m1", jobs.Descriptor{JobID: "j1", JobType: jobs.TypeSendReceipt, OrderID: "o1"}),
		{MessageId: "m2", Body: "not json"},
	}})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	require.Len(t, exec.seen, 1)
	assert.Equal(t, "j1", exec.seen[0].JobID)

	exec.err = errors.New("dynamodb unavailable")
	resp, err = p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		message(t, "m3", jobs.Descriptor{JobID: "j2", JobType: jobs.TypeSendReceipt, OrderID: "o1"}),
	}})
	require.NoError(t, err)
	require.Len(t, resp.BatchItemFailures, 1)
	assert.Equal(t, "m3", resp.BatchItemFailures[0].ItemIdentifier)
}

func TestHandle_RunsInventorySync(t *testing.T) {
	ctx := context.Background()
	fake := awstest.NewFakeDynamo(map[string]string{"orders": "order_id", "inventory": "id", "jobs": "job_id"})
	ledger := inventory.NewDynamoLedger(fake, "inventory")
	require.NoError(t, ledger.Put(ctx, &inventory.Item{ID: "A", Name: "Food Box", Price: money.MustParse("25.00"), Quantity: 4}))

	orderStore := orders.NewStore(fake, "orders")
	order, err := orders.NewCreator(ledger, orderStore).Create(ctx, "u1", []orders.Line{{InventoryItemID: "A", Quantity: 3}}, "")
	require.NoError(t, err)

	jobStore := jobs.NewStore(fake, "jobs")
	registry := jobs.NewDefaultRegistry(jobs.Deps{Orders: orderStore, Inventory: ledger, Log: zap.NewNop()})
	svc := jobs.NewService(jobStore, jobs.NewMemoryQueue(), registry, zap.NewNop(), jobs.Options{})

	job := &jobs.Job{JobID: "j1", JobType: jobs.TypeInventorySync, Status: jobs.StatusQueued, OrderID: order.OrderID, CreatedAt: time.Now().UTC()}
	require.NoError(t, jobStore.Create(ctx, job))

	p := NewProcessor(svc, zap.NewNop())
	ev := events.SQSEvent{Records: []events.SQSMessage{message(t, "m1", job.Descriptor())}}
	resp, err := p.Handle(ctx, ev)
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)

	got, err := jobStore.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusDone, got.Status)

	it, err := ledger.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 1, it.Quantity)

	// A redelivered message finds the job already claimed and is acknowledged.
	resp, err = p.Handle(ctx, ev)
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	it, err = ledger.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 1, it.Quantity)
}

func TestHandle_RedeliversJobHeldElsewhere(t *testing.T) {
	ctx := context.Background()
	fake := awstest.NewFakeDynamo(map[string]string{"jobs": "job_id"})
	jobStore := jobs.NewStore(fake, "jobs")
	svc := jobs.NewService(jobStore, jobs.NewMemoryQueue(), jobs.NewRegistry(), zap.NewNop(), jobs.Options{Lease: time.Hour})

	job := &jobs.Job{JobID: "j1", JobType: jobs.TypeSendReceipt, Status: jobs.StatusQueued, OrderID: "o1"}
	require.NoError(t, jobStore.Create(ctx, job))
	_, err := jobStore.MarkRunning(ctx, "j1")
	require.NoError(t, err)

	p := NewProcessor(svc, zap.NewNop())
	resp, err := p.Handle(ctx, events.SQSEvent{Records: []events.SQSMessage{message(t, "m1", job.Descriptor())}})
	require.NoError(t, err)
	require.Len(t, resp.BatchItemFailures, 1)
	assert.Equal(t, "m1", resp.BatchItemFailures[0].ItemIdentifier)
}
